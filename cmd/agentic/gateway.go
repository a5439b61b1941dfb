package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/darrylbowler72/agenticframework-sub001/internal/capability/github"
	"github.com/darrylbowler72/agenticframework-sub001/internal/health"
	"github.com/darrylbowler72/agenticframework-sub001/internal/mcp"
	"github.com/darrylbowler72/agenticframework-sub001/internal/secrets"
	"github.com/darrylbowler72/agenticframework-sub001/internal/telemetry"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the tool gateway",
	Long: `Run the tool gateway. Workers call POST /mcp/call with namespaced
methods such as github.create_repository; the same actions are exposed to
MCP clients over SSE at /mcp/sse.`,
	RunE: runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	secretCfg := cfg.Gateway.Secret
	source, err := secrets.NewSource(ctx, secretCfg.Source, secretCfg.EnvVar, secretCfg.Region, secretCfg.SecretID, secretCfg.JSONKey)
	if err != nil {
		return fmt.Errorf("configuring credential source: %w", err)
	}
	token := secrets.NewCredential(source)

	opts := []github.Option{github.WithHTTPClient(&http.Client{Timeout: 30 * time.Second})}
	if raw := cfg.Gateway.GitHub.BaseURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing gateway.github.base_url: %w", err)
		}
		opts = append(opts, github.WithBaseURL(u))
	}
	if cfg.Gateway.GitHub.Owner == "" {
		logger.Warn("gateway.github.owner is empty; bare repository names will be rejected")
	}

	stopTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, "tool-gateway")
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	metrics, err := telemetry.Global()
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	gateway := mcp.NewGateway(logger, metrics)
	if err := gateway.Register(github.New(cfg.Gateway.GitHub.Owner, token, opts...)); err != nil {
		return err
	}
	for _, m := range gateway.Methods() {
		logger.Debug("tool registered", "method", m.Name)
	}

	e := newEcho("tool-gateway", logger)
	mcp.RegisterRoutes(e, gateway)
	mcp.MountHTTPHandlers(e, mcp.NewServer(gateway).GetMCPServer())
	e.GET("/health", health.Handler("tool-gateway", map[string]health.Check{
		"credential": func(ctx context.Context) error {
			_, err := token.Get(ctx)
			return err
		},
	}))
	logRoutes(e, logger)

	return serve(cfg, e, logger, stopTelemetry)
}
