package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/darrylbowler72/agenticframework-sub001/internal/api"
	"github.com/darrylbowler72/agenticframework-sub001/internal/auth"
	"github.com/darrylbowler72/agenticframework-sub001/internal/config"
	"github.com/darrylbowler72/agenticframework-sub001/internal/dedupe"
	"github.com/darrylbowler72/agenticframework-sub001/internal/events"
	"github.com/darrylbowler72/agenticframework-sub001/internal/health"
	"github.com/darrylbowler72/agenticframework-sub001/internal/llm"
	"github.com/darrylbowler72/agenticframework-sub001/internal/orchestrator"
	"github.com/darrylbowler72/agenticframework-sub001/internal/planner"
	"github.com/darrylbowler72/agenticframework-sub001/internal/repository"
	"github.com/darrylbowler72/agenticframework-sub001/internal/telemetry"
)

// Completion signals are remembered long enough to absorb worker retries.
const (
	seenTTL  = 30 * time.Minute
	seenSize = 100_000
)

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the orchestrator service",
	Long: `Run the orchestrator: the client API for submitting and inspecting
workflows, the completion callback endpoint, the event router and the
sweeper that enforces dispatch and workflow deadlines.`,
	RunE: runOrchestrator,
}

func runOrchestrator(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger.Info("starting orchestrator", "environment", cfg.Environment, "store", cfg.Store.Driver)

	stopTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, "orchestrator")
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	metrics, err := telemetry.Global()
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	router := events.NewRouter(events.Options{
		MaxAttempts:     cfg.Events.MaxAttempts,
		InitialInterval: cfg.Events.RetryInterval,
		Logger:          logger,
		Metrics:         metrics,
	})
	forwardClient := &http.Client{Timeout: 10 * time.Second}
	for _, sub := range cfg.Events.Subscriptions {
		if err := router.Subscribe(sub.Topic, sub.Name, events.NewHTTPSubscriber(sub.URL, forwardClient).Handle); err != nil {
			return fmt.Errorf("subscribing %s: %w", sub.Name, err)
		}
	}

	p, err := newPlanner(cfg, logger)
	if err != nil {
		return err
	}

	dispatcher, err := orchestrator.NewHTTPDispatcher(cfg.Workers, &http.Client{Timeout: cfg.Orchestrator.DispatchTimeout})
	if err != nil {
		return err
	}
	if len(dispatcher.Kinds()) == 0 {
		logger.Warn("no worker services configured; every dispatch will fail")
	}

	orch := orchestrator.New(store, p, dispatcher, router, orchestrator.Options{
		CallbackURL:      cfg.Orchestrator.CallbackURL,
		DispatchTimeout:  cfg.Orchestrator.DispatchTimeout,
		DispatchDeadline: cfg.Orchestrator.DispatchDeadline,
		WorkflowTimeout:  cfg.Orchestrator.WorkflowTimeout,
		SweepInterval:    cfg.Orchestrator.SweepInterval,
		Policy:           orchestrator.PolicyFromConfig(cfg.Orchestrator),
		Logger:           logger,
		Metrics:          metrics,
	})
	if err := orch.Subscribe(router); err != nil {
		return fmt.Errorf("subscribing orchestrator: %w", err)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(sweepCtx)
	g.Go(func() error { return orch.Run(gctx) })

	e := newEcho("orchestrator", logger)
	routes := api.Routes{
		Checks:   map[string]health.Check{"store": store.Ping},
		Issuer:   cfg.Auth.Issuer,
		ClientID: cfg.Auth.ClientID,
	}
	if cfg.Auth.Enabled {
		authz, err := auth.New(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID, logger)
		if err != nil {
			stopSweep()
			return fmt.Errorf("initializing auth: %w", err)
		}
		routes.Auth = authz.Middleware()
	}
	srv := api.NewServer(orch, router, router, dedupe.New(seenTTL, seenSize), logger)
	srv.RegisterRoutes(e, routes)
	logRoutes(e, logger)

	return serve(cfg, e, logger,
		func(ctx context.Context) error {
			stopSweep()
			return g.Wait()
		},
		func(ctx context.Context) error {
			// drain completions before the orchestrator stops applying them
			err := router.Close(ctx)
			orch.Close()
			return err
		},
		stopTelemetry,
	)
}

// openStore connects the configured state store. The returned func releases
// its connections.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.StateStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database connected")
		return repository.NewPostgresStore(pool), pool.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("redis connected", "addr", cfg.Store.Redis.Addr)
		return repository.NewRedisStore(rdb, cfg.Store.Redis.Prefix), func() { rdb.Close() }, nil
	default:
		logger.Warn("using in-memory state store; workflows do not survive a restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Debug("initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func newPlanner(cfg *config.Config, logger *slog.Logger) (planner.Planner, error) {
	registry := planner.NewRegistry()
	if !cfg.Planner.Enabled {
		return planner.NewStaticPlanner(registry), nil
	}
	claude, err := llm.NewClaude(cfg.Planner.APIKey, cfg.Planner.Model, cfg.Planner.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("initializing planner model: %w", err)
	}
	logger.Info("model-assisted planning enabled", "model", cfg.Planner.Model)
	return planner.NewLLMPlanner(registry, claude, logger), nil
}

func logRoutes(e *echo.Echo, logger *slog.Logger) {
	for _, r := range e.Routes() {
		logger.Debug("route", "method", r.Method, "path", r.Path)
	}
}
