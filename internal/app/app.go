// Package app wires configuration, storage, the model gateway, tools,
// and the chat orchestrator into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/database"
	"github.com/parleyhq/parley/internal/ephemeral"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

// App holds the initialized application components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Store    *store.Store
	Registry *ephemeral.Registry
	Gateway  *llm.Gateway
	Service  *chat.Service
	Verifier *auth.Verifier

	toolProvider *tools.MCPProvider
	otelCleanup  func()
	cancel       context.CancelFunc
}

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Store = store.New(pool, logger)

	// The sweeper goroutine stops when the app is closed.
	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.Registry = ephemeral.NewRegistry(logger,
		ephemeral.WithTTL(cfg.EphemeralTTL),
		ephemeral.WithSweepInterval(cfg.SweepInterval),
	)
	go a.Registry.Run(sweepCtx)

	gateway, err := llm.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating model gateway: %w", err)
	}
	a.Gateway = gateway

	if !gateway.TestConnectivity(ctx) {
		logger.Warn("model upstream unreachable at startup, requests will retry")
	}

	var runner chat.ToolRunner
	if cfg.ToolsEnabled() {
		provider, err := tools.NewMCPProvider(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting tool provider: %w", err)
		}
		a.toolProvider = provider
		runner = tools.NewLoop(provider, gateway, logger)
		logger.Info("tool augmentation enabled",
			"endpoint", cfg.ToolEndpoint, "command", cfg.ToolCommand)
	}

	a.Service = chat.NewService(gateway, runner, cfg, logger)
	a.Verifier = auth.NewVerifier(cfg.AuthSecret)

	return a, nil
}

// Close releases all application resources in reverse setup order.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if a.toolProvider != nil {
		if err := a.toolProvider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	if len(errs) > 0 {
		return fmt.Errorf("closing application: %v", errs)
	}
	return nil
}

// provideOtelShutdown sets up OTLP tracing when enabled.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.TracingEnabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("setting up tracing", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := database.Connect(pingCtx, cfg.DatabaseURL())
	if err != nil {
		return nil, err
	}
	return pool, nil
}
