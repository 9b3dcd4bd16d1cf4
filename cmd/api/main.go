package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"routeplanner/internal/api"
	"routeplanner/internal/buildinfo"
	"routeplanner/internal/cluster"
	"routeplanner/internal/config"
	"routeplanner/internal/events"
	"routeplanner/internal/matrix"
	"routeplanner/internal/metrics"
	"routeplanner/internal/opt"
	"routeplanner/internal/plans"
	"routeplanner/internal/routing"
	"routeplanner/internal/solver"
	"routeplanner/internal/store"
	"routeplanner/internal/telemetry"
	"routeplanner/internal/webhooks"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	// .env is optional; production sets real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("routeplanner starting", "version", buildinfo.Version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "routeplanner", buildinfo.Version, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()
	metrics.RegisterDefault()

	st, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedTasks != "" {
		n, err := store.Seed(ctx, st, cfg.SeedTasks)
		if err != nil {
			return fmt.Errorf("seed tasks: %w", err)
		}
		logger.Info("seeded tasks", "file", cfg.SeedTasks, "tasks", n)
	}

	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := bus.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	var (
		provider matrix.Provider
		trip     cluster.TripPlanner
	)
	if cfg.RoutingURL != "" {
		rc := routing.NewClient(routing.Config{
			BaseURL:     cfg.RoutingURL,
			Profile:     cfg.RoutingProfile,
			Timeout:     cfg.MatrixTimeout,
			RatePerSec:  cfg.RoutingRatePerSec,
			Burst:       cfg.RoutingBurst,
			MaxAttempts: cfg.RoutingMaxAttempts,
		}, logger)
		provider, trip = rc, rc
	} else {
		logger.Warn("no routing provider configured, travel matrices use great-circle estimates")
	}

	var slv solver.Solver = solver.Disabled{}
	if cfg.SolverURL != "" {
		slv = solver.NewHTTPClient(cfg.SolverURL, cfg.SolverTimeout, logger)
	}

	optimizer := opt.New(
		opt.WithMatrixBuilder(matrix.NewBuilder(provider, cfg.MatrixTimeout, logger)),
		opt.WithSolver(slv),
		opt.WithSolverTimeout(cfg.SolverTimeout),
		opt.WithLogger(logger),
	)
	manager := plans.NewManager(st, bus,
		plans.WithTaskStore(st),
		plans.WithAverageSpeed(cfg.AverageSpeedKmph),
		plans.WithLogger(logger),
	)
	clusterer := &cluster.Clusterer{Tasks: st, Plans: manager, Trip: trip, Logger: logger}

	if cfg.WebhookURL != "" {
		w := webhooks.NewWorker(webhooks.Config{
			URL:         cfg.WebhookURL,
			Secret:      cfg.WebhookSecret,
			MaxAttempts: cfg.WebhookMaxAttempts,
		}, logger)
		go func() {
			if err := w.Run(ctx, bus); err != nil {
				logger.Error("webhook forwarder stopped", "error", err)
			}
		}()
	}

	srv := api.NewServer(api.Deps{
		Optimizer: optimizer,
		Clusterer: clusterer,
		Plans:     manager,
		Defaults: opt.Options{
			AverageSpeedKmph: cfg.AverageSpeedKmph,
			MatrixTimeout:    cfg.MatrixTimeout,
			SolverTimeout:    cfg.SolverTimeout,
		},
		Ready:    ready,
		Logger:   logger,
		Settings: settings(cfg),
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// openStore selects Postgres when DATABASE_URL is set and the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(context.Context) error, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return store.NewMemory(), nil, func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info("using postgres store")
	return pg, pg.Ping, func() { _ = pg.Close() }, nil
}

func openBus(cfg *config.Config, logger *slog.Logger) (events.Bus, error) {
	if cfg.RedisURL == "" {
		return events.NewBroker(), nil
	}
	rb, err := events.NewRedisBroker(cfg.RedisURL, cfg.RedisChannel, logger)
	if err != nil {
		return nil, fmt.Errorf("redis broker: %w", err)
	}
	logger.Info("plan events via redis", "channel", cfg.RedisChannel)
	return rb, nil
}

func settings(cfg *config.Config) map[string]any {
	return map[string]any{
		"port":               cfg.Port,
		"routingProfile":     cfg.RoutingProfile,
		"averageSpeedKmph":   cfg.AverageSpeedKmph,
		"matrixTimeout":      cfg.MatrixTimeout.String(),
		"solverTimeout":      cfg.SolverTimeout.String(),
		"hasDatabaseURL":     cfg.DatabaseURL != "",
		"hasRedisURL":        cfg.RedisURL != "",
		"hasRoutingURL":      cfg.RoutingURL != "",
		"hasSolverURL":       cfg.SolverURL != "",
		"hasWebhookURL":      cfg.WebhookURL != "",
		"webhookMaxAttempts": cfg.WebhookMaxAttempts,
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
