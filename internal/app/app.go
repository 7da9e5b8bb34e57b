package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/config"
	"github.com/kursadbilgin/notification-engine/internal/handler"
	"github.com/kursadbilgin/notification-engine/internal/infra/mongodb"
	"github.com/kursadbilgin/notification-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/kursadbilgin/notification-engine/internal/repository/mongostore"
	"github.com/kursadbilgin/notification-engine/internal/service"
	"go.uber.org/zap"
)

// Runtime holds the connections shared by the api and worker processes.
type Runtime struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Notifications repository.NotificationRepository
	Attempts      repository.AttemptRepository
	Templates     repository.TemplateRepository

	Broker    *queue.RabbitMQ
	Publisher *queue.RabbitMQPublisher

	// Checks feeds /readyz.
	Checks map[string]handler.HealthCheck

	closers []func() error
}

// New opens the configured store and the broker, and declares the broker
// topology. The caller must Close the runtime.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
		Checks:  map[string]handler.HealthCheck{},
	}

	if err := rt.openStore(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.Topology())
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	rt.Broker = broker
	rt.closers = append(rt.closers, broker.Close)
	rt.Checks["rabbitmq"] = broker.Healthcheck

	if err := broker.EnsureTopology(ctx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("rabbitmq topology declaration failed: %w", err)
	}

	rt.Publisher = queue.NewRabbitMQPublisher(broker, logger)
	rt.closers = append(rt.closers, rt.Publisher.Close)

	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	switch rt.Config.StoreDriver {
	case config.StoreDriverMongo:
		client, db, err := mongodb.NewMongo(ctx, rt.Config.MongoURL, rt.Config.MongoDatabase)
		if err != nil {
			return fmt.Errorf("mongodb initialization failed: %w", err)
		}
		rt.closers = append(rt.closers, func() error { return client.Disconnect(context.Background()) })

		if err := mongostore.EnsureIndexes(ctx, db); err != nil {
			return fmt.Errorf("mongodb index creation failed: %w", err)
		}

		rt.Notifications = mongostore.NewNotificationRepo(db)
		rt.Attempts = mongostore.NewAttemptRepo(db)
		rt.Templates = mongostore.NewTemplateRepo(db)
		rt.Checks["mongodb"] = mongodb.Healthcheck(client)

	default:
		db, err := postgresql.NewPostgres(ctx, rt.Config.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}
		rt.closers = append(rt.closers, sqlDB.Close)

		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}

		rt.Notifications = repository.NewGormNotificationRepo(db)
		rt.Attempts = repository.NewGormAttemptRepo(db)
		rt.Templates = repository.NewGormTemplateRepo(db)
		rt.Checks["postgres"] = postgresql.Healthcheck(db)
	}

	rt.Logger.Info("store ready", zap.String("driver", rt.Config.StoreDriver))
	return nil
}

// NotificationService builds the orchestrator over the runtime's store and
// publisher. transport may be nil in the api process.
func (rt *Runtime) NotificationService(transport provider.Provider) (*service.NotificationService, error) {
	svc, err := service.NewNotificationService(
		rt.Notifications,
		rt.Attempts,
		rt.Templates,
		rt.Publisher,
		transport,
		rt.Config.Topology(),
		rt.Logger,
	)
	if err != nil {
		return nil, err
	}

	svc.SetMetrics(rt.Metrics)
	svc.SetSendTimeout(rt.Config.SendTimeout())
	svc.SetClassifyPermanent(rt.Config.ClassifyPermanent)
	return svc, nil
}

// AddCloser registers fn to run on Close, before the connections opened by New.
func (rt *Runtime) AddCloser(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
