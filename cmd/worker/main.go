package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/app"
	"github.com/kursadbilgin/notification-engine/internal/config"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("runtime initialization failed", zap.Error(err))
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close failed", zap.Error(err))
		}
	}()

	mailer, err := app.NewTransport(cfg, logger)
	if err != nil {
		logger.Fatal("transport initialization failed", zap.Error(err))
	}
	limiter, err := rt.ConnectRateLimiter(ctx)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	svc, err := rt.NotificationService(mailer)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}
	svc.SetRateLimiter(limiter)

	consumer := queue.NewRabbitMQConsumer(rt.Broker, cfg.WorkerPrefetch, logger)
	worker, err := service.NewWorkerService(svc, consumer, cfg.SendQueue, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(rt.Metrics)

	server := rt.OpsServer("notification-engine-worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker metrics listener started", zap.Int("port", cfg.MetricsPort))
		return server.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
	})
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")
		return server.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
}
