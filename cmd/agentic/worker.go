package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/darrylbowler72/agenticframework-sub001/internal/llm"
	"github.com/darrylbowler72/agenticframework-sub001/internal/mcp"
	"github.com/darrylbowler72/agenticframework-sub001/internal/telemetry"
	"github.com/darrylbowler72/agenticframework-sub001/internal/worker"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

var workerKind string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker service for one task kind",
	Long: `Run a worker service. The orchestrator POSTs dispatch requests to
/tasks; the worker acknowledges at once, processes the task and reports the
outcome to the request's callback URL.

Kinds: codegen, template, policy, deployment, observability, remediation, intake.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerKind, "kind", "", "Worker kind (overrides worker.kind)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	kind := models.WorkerKind(cfg.Worker.Kind)
	if workerKind != "" {
		kind = models.WorkerKind(workerKind)
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown worker kind %q", kind)
	}
	logger = logger.With("worker", string(kind))
	service := string(kind) + "-worker"

	stopTelemetry, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, service)
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}

	deps := worker.Deps{
		Tools:  mcp.NewClient(cfg.Worker.GatewayURL, &http.Client{Timeout: 60 * time.Second}),
		Logger: logger,
	}
	if cfg.Planner.Enabled && cfg.Planner.APIKey != "" {
		claude, err := llm.NewClaude(cfg.Planner.APIKey, cfg.Planner.Model, cfg.Planner.MaxTokens)
		if err != nil {
			return fmt.Errorf("initializing model client: %w", err)
		}
		deps.LLM = claude
	}
	handler, err := worker.NewHandler(kind, deps)
	if err != nil {
		return err
	}

	srv := worker.NewServer(kind, handler, worker.Options{
		ProcessTimeout: cfg.Worker.ProcessTimeout,
		CallbackTries:  cfg.Worker.CallbackTries,
		Logger:         logger,
	})
	e := newEcho(service, logger)
	srv.RegisterRoutes(e)

	logger.Info("starting worker", "gateway", cfg.Worker.GatewayURL)
	return serve(cfg, e, logger, srv.Shutdown, stopTelemetry)
}
