package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/internal/config"
	"github.com/aretw0/journey/pkg/adapters/file"
	"github.com/aretw0/journey/pkg/adapters/loam"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/adapters/redis"
	"github.com/aretw0/journey/pkg/adapters/watermill"
	"github.com/aretw0/journey/pkg/observability"
	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// App bundles an engine with the adapters it was built from.
type App struct {
	Engine  *journey.Engine
	Loader  ports.GraphLoader
	Bus     *watermill.Bus
	Metrics *observability.Metrics
	Logger  *slog.Logger

	watcher *loam.Loader
	closers []func() error
}

// NewApp initializes an engine following cfg: graph loader, session store,
// interventions, locking, update bus and metrics.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{Logger: logger}

	// 1. Graph Loader
	switch cfg.GraphsFormat {
	case "loam":
		l, err := loam.Open(cfg.GraphsDir)
		if err != nil {
			return nil, err
		}
		app.Loader = l
		app.watcher = l
	default:
		app.Loader = file.NewLoader(cfg.GraphsDir)
	}

	engineOpts := []journey.Option{
		journey.WithLogger(logger),
		journey.WithMaxRetries(cfg.MaxRetries),
		journey.WithIntentThreshold(cfg.IntentThreshold),
		journey.WithIntentFloor(cfg.IntentAlternativeFloor),
		journey.WithInterventionTimeout(cfg.InterventionTimeout),
		journey.WithLockTTL(cfg.LockTTL),
	}

	// 2. Persistence
	storeOpts, err := app.persistence(cfg)
	if err != nil {
		return nil, err
	}
	engineOpts = append(engineOpts, storeOpts...)

	// 3. Updates & Metrics
	app.Bus = watermill.NewInMemory(logger)
	app.closers = append(app.closers, app.Bus.Close)
	engineOpts = append(engineOpts, journey.WithPublisher(app.Bus))

	if cfg.Metrics {
		app.Metrics = observability.NewMetrics(prometheus.NewRegistry())
		engineOpts = append(engineOpts, journey.WithMetrics(app.Metrics))
	}

	engine, err := journey.New(app.Loader, engineOpts...)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	app.Engine = engine
	return app, nil
}

func (a *App) persistence(cfg config.Config) ([]journey.Option, error) {
	var (
		store ports.StateStore
		opts  []journey.Option
	)

	switch cfg.Store {
	case "file":
		store = file.New(filepath.Join(cfg.StoreDir, "sessions"))
		opts = append(opts, journey.WithInterventionStore(file.NewInterventionStore(filepath.Join(cfg.StoreDir, "interventions"))))
	case "redis":
		client := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, client.Close)
		store = redis.NewFromClient(client,
			redis.WithPrefix(cfg.RedisPrefix+"session:"),
			redis.WithTTL(cfg.SessionTTL),
		)
		opts = append(opts,
			journey.WithInterventionStore(redis.NewInterventionStore(client, cfg.RedisPrefix+"intervention:")),
			journey.WithLocker(redis.NewLocker(client, cfg.RedisPrefix)),
		)
	default:
		store = memory.NewStore()
	}

	var mws []middleware.Middleware
	if len(cfg.PIIPatterns) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.PIIPatterns))
	}
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	if key != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	if len(mws) > 0 {
		store = middleware.Chain(store, mws...)
	}

	return append(opts, journey.WithStore(store)), nil
}

// Start runs the background work of the app until ctx is done: the
// intervention sweeper and, for Loam graphs, reloading of changed workflows.
func (a *App) Start(ctx context.Context, schedule string) error {
	if err := a.Engine.StartSweeper(ctx, schedule); err != nil {
		return err
	}
	if a.watcher != nil {
		changes, err := a.watcher.Watch(ctx)
		if err != nil {
			a.Logger.Warn("Workflow watcher unavailable", "err", err)
			return nil
		}
		go InvalidateOnChange(ctx, changes, a.Engine.Registry(), a.Logger)
	}
	return nil
}

// Close stops background work and releases the adapters.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.StopSweeper()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
