// Package app assembles the engines and their dependencies from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/config"
	"github.com/segyhp/funds-engine/internal/events"
	"github.com/segyhp/funds-engine/internal/handler"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/observability"
	"github.com/segyhp/funds-engine/internal/repository"
	"github.com/segyhp/funds-engine/internal/repository/memstore"
	"github.com/segyhp/funds-engine/internal/scheduler"
	"github.com/segyhp/funds-engine/internal/service"
)

// App holds the wired components shared by the server and scheduler binaries.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Store       repository.Store
	Registry    idempotency.Registry
	Dispatcher  *events.Dispatcher
	Transfers   *service.TransferService
	Obligations *service.ObligationService
	Supervisor  *scheduler.Supervisor

	closers []func() error
}

// New connects to the configured store, registry and event sink and builds the engines.
// The dispatcher is started; call Close to drain it and release connections.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := a.initStore(); err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.initRegistry()
	a.initEvents()

	opts := service.Options{
		LockRetryAttempts: cfg.Engine.LockRetryAttempts,
		LockRetryBackoff:  cfg.GetLockRetryBackoff(),
		LockTTL:           cfg.GetLockTTL(),
		ResultTTL:         cfg.GetResultTTL(),
		Workers:           cfg.Scheduler.Workers,
		Policy:            cfg.PenaltyPolicy(),
		Location:          cfg.GetLocation(),
	}
	a.Transfers = service.NewTransferService(a.Store, a.Registry, a.Dispatcher, a.Metrics, logger.Named("transfer"), opts)
	a.Obligations = service.NewObligationService(a.Store, a.Registry, a.Dispatcher, a.Metrics, logger.Named("obligation"), opts)
	a.Supervisor = scheduler.NewSupervisor(a.Obligations, a.Registry, logger.Named("scheduler"), scheduler.Config{
		Spec:         cfg.Scheduler.Cron,
		Location:     cfg.GetLocation(),
		RunLockTTL:   cfg.GetRunLockTTL(),
		MaxRetries:   cfg.Scheduler.MaxRetries,
		RetryBackoff: cfg.GetRetryBackoff(),
	})

	return a, nil
}

func (a *App) initStore() error {
	cfg := a.Config
	if cfg.Database.Driver == config.DriverMemory {
		a.Logger.Warn("using in-memory store, data is lost on restart")
		a.Store = memstore.New(cfg.GetDBLockTimeout())
		return nil
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)

	a.Store = repository.NewPostgresStore(db, cfg.GetDBLockTimeout())
	a.closers = append(a.closers, db.Close)
	return nil
}

func (a *App) initRegistry() {
	cfg := a.Config
	if cfg.Idempotency.Driver == config.DriverMemory {
		a.Logger.Warn("using in-memory idempotency registry, keys are not shared between instances")
		a.Registry = idempotency.NewMemoryRegistry()
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.Registry = idempotency.NewRedisRegistry(client, "funds:idem")
	a.closers = append(a.closers, client.Close)
}

// initEvents falls back to the log sink when RabbitMQ is not configured or unreachable.
func (a *App) initEvents() {
	cfg := a.Config
	var sink events.Sink = events.NewLogSink(a.Logger.Named("events"))

	if cfg.Events.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitMQSink(cfg.Events.RabbitMQURL, cfg.Events.Exchange, a.Logger.Named("rabbitmq"))
		if err != nil {
			a.Logger.Warn("rabbitmq unavailable, events will only be logged", zap.Error(err))
		} else {
			sink = rabbit
			a.closers = append(a.closers, rabbit.Close)
		}
	}

	a.Dispatcher = events.NewDispatcher(sink, a.Logger.Named("dispatcher"), a.Metrics, cfg.Events.BufferSize)
	a.Dispatcher.Start()
}

// HealthChecks returns the dependencies the readiness probe pings.
func (a *App) HealthChecks() map[string]handler.Pinger {
	return map[string]handler.Pinger{
		"store":       a.Store,
		"idempotency": a.Registry,
	}
}

// Close drains pending events and closes connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
