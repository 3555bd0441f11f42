// Package bootstrap holds the process wiring shared by the api, the outbox
// publisher and the cron worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/db"
	"github.com/angelmondragon/marketplace-escrow/pkg/instance"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
	"github.com/angelmondragon/marketplace-escrow/pkg/migrate"
	"github.com/angelmondragon/marketplace-escrow/pkg/redis"
)

// Runtime is what every binary gets before its own wiring: config, a logger
// at the configured level, the database pool and a metrics registry.
type Runtime struct {
	Kind     string
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Registry *prometheus.Registry

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Main runs fn with a Runtime for kind and exits non-zero when it fails.
// SIGINT and SIGTERM cancel the context handed to fn.
func Main(kind string, fn func(ctx context.Context, rt *Runtime) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := Start(ctx, kind)
	if err != nil {
		logger.New(logger.Options{ServiceName: kind}).Error(ctx, "bootstrap failed", err)
		os.Exit(1)
	}
	ctx = rt.Context(ctx)

	err = fn(ctx, rt)
	if cerr := rt.Close(); cerr != nil {
		rt.Logger.Error(ctx, "shutdown cleanup failed", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, kind+" stopped unexpectedly", err)
		os.Exit(1)
	}
	rt.Logger.Info(ctx, kind+" stopped")
}

// Start loads .env and config, connects the database and applies dev
// migrations when the feature flag asks for it.
func Start(ctx context.Context, kind string) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		boot.Debug(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind
	if err := checkEnvironment(cfg); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       cfg.App.LogLevel,
			WarnStack:   cfg.App.LogWarnStack,
		}),
		Registry: prometheus.NewRegistry(),
	}
	rt.Registry.MustRegister(collectors.NewGoCollector())

	client, err := db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.DB = client
	rt.OnClose("database", client.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, client); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return rt, nil
}

// checkEnvironment refuses settings that only make sense on a laptop.
func checkEnvironment(cfg *config.Config) error {
	if !cfg.App.IsProd() {
		return nil
	}
	if cfg.DB.Driver == db.DriverSQLite {
		return errors.New("sqlite driver is not allowed in prod")
	}
	if cfg.FeatureFlags.AutoMigrate {
		return errors.New("auto-migrate is not allowed in prod, run cmd/migrate")
	}
	return nil
}

// OnClose registers fn to run at shutdown. Closers run in reverse order.
func (rt *Runtime) OnClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

func (rt *Runtime) Close() error {
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errs
}

// Redis connects the shared Redis client and closes it with the runtime.
func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	rt.OnClose("redis", client.Close)
	return client, nil
}

// Context tags ctx with the fields every log line of this process carries.
func (rt *Runtime) Context(ctx context.Context) context.Context {
	return rt.Logger.WithFields(ctx, map[string]any{
		"env":         rt.Config.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": rt.Kind,
	})
}

// ServeMetrics exposes the registry on addr until ctx ends. Empty addr is a no-op.
func (rt *Runtime) ServeMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, rt.Registry); err != nil {
			rt.Logger.Error(ctx, "metrics listener stopped", err)
		}
	}()
}
