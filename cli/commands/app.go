package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/mongodb"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/postgres"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/redis"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/sqlite"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/config"
	"github.com/simara-svatopluk/event-sourcing-occurrent/guessgame"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/metrics"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/tracing"
)

// connectTimeout bounds the initial ping of network backends.
const connectTimeout = 5 * time.Second

// App holds everything a command needs to play and project games.
type App struct {
	Config    *config.Config
	Logger    occurrent.Logger
	Store     *occurrent.EventStore
	Commands  *occurrent.CommandService
	Model     *occurrent.SubscriptionModel
	Positions adapters.PositionStore
	Views     adapters.ViewStore

	// Metrics and Tracer are nil when disabled.
	Metrics *metrics.Metrics
	Tracer  *tracing.Tracer

	closers []func() error
}

// backend is the storage of one configured backend.
type backend struct {
	events    adapters.EventStoreAdapter
	positions adapters.PositionStore
	views     adapters.ViewStore
}

// openBackend connects to the backend named by the configuration.
// Network backends are pinged so invalid URLs fail fast.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{
			events:    memory.NewAdapter(),
			positions: memory.NewPositionStore(),
			views:     memory.NewViewStore(),
		}, nil

	case config.BackendSQLite:
		adapter, err := sqlite.Open(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return &backend{events: adapter, positions: adapter, views: adapter}, nil

	case config.BackendPostgres:
		adapter, err := postgres.NewAdapter(cfg.Database.URL, postgres.WithSchema(cfg.Database.Schema))
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres adapter: %w", err)
		}
		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return &backend{events: adapter, positions: adapter, views: adapter}, nil

	case config.BackendMongoDB:
		adapter, err := mongodb.Connect(pingCtx, cfg.Database.URL, cfg.Database.Name)
		if err != nil {
			return nil, err
		}
		return &backend{events: adapter, positions: adapter, views: adapter}, nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// OpenApp connects the configured storage and builds the store, the command
// service and the subscription model on top of it.
func OpenApp(ctx context.Context, cfg *config.Config, logger occurrent.Logger, m *metrics.Metrics, tracer *tracing.Tracer) (*App, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Positions: b.positions,
		Views:     b.views,
		Metrics:   m,
		Tracer:    tracer,
	}
	app.closers = append(app.closers, b.events.Close)

	if cfg.Redis.URL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		store, err := redis.Connect(pingCtx, cfg.Redis.URL, redis.WithKeyPrefix(cfg.Redis.KeyPrefix))
		cancel()
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Positions = store
		app.Views = store
		app.closers = append(app.closers, store.Close)
	}

	events := b.events
	if m != nil {
		events = m.WrapEventStore(events)
	}
	if tracer != nil {
		events = tracing.NewEventStoreMiddleware(events, tracer)
	}

	if err := events.Initialize(ctx); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialize %s backend: %w", cfg.Backend, err)
	}

	app.Store = occurrent.New(events,
		occurrent.WithLogger(logger),
		occurrent.WithSource(cfg.Event.Source),
	)
	guessgame.RegisterEvents(app.Store)

	commandOpts := []occurrent.CommandOption{
		occurrent.WithMaxAttempts(cfg.Command.MaxAttempts),
		occurrent.WithCommandLogger(logger),
	}
	modelOpts := []occurrent.SubscriptionModelOption{
		occurrent.WithPositionStorage(app.Positions),
		occurrent.WithSubscriptionLogger(logger),
		occurrent.WithPollInterval(cfg.Subscription.PollInterval),
		occurrent.WithBatchSize(cfg.Subscription.BatchSize),
	}
	if m != nil {
		commandOpts = append(commandOpts, occurrent.WithCommandMetrics(m))
		modelOpts = append(modelOpts, occurrent.WithSubscriptionMetrics(m))
	}

	app.Commands = occurrent.NewCommandService(app.Store, commandOpts...)
	app.Model = occurrent.NewSubscriptionModel(app.Store, modelOpts...)
	return app, nil
}

// Handler wraps h with the instrumentation enabled for the app.
func (a *App) Handler(subscriptionID string, h occurrent.Handler) occurrent.Handler {
	middleware := []occurrent.HandlerMiddleware{occurrent.LoggingHandler(a.Logger)}
	if a.Tracer != nil {
		middleware = append([]occurrent.HandlerMiddleware{tracing.HandlerMiddleware(a.Tracer, subscriptionID)}, middleware...)
	}
	return occurrent.WrapHandler(h, middleware...)
}

// Shutdown stops all subscriptions and closes the storage.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Model != nil {
		if err := a.Model.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes the storage connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
