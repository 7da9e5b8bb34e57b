package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"go.uber.org/zap"
)

// SendProcessor performs one delivery attempt.
type SendProcessor interface {
	ProcessSend(ctx context.Context, notificationID string) error
}

// WorkerService feeds send messages from the broker to a SendProcessor.
type WorkerService struct {
	processor SendProcessor
	consumer  queue.Consumer
	queueName string
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewWorkerService(processor SendProcessor, consumer queue.Consumer, queueName string, logger *zap.Logger) (*WorkerService, error) {
	if processor == nil {
		return nil, fmt.Errorf("send processor is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if strings.TrimSpace(queueName) == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		processor: processor,
		consumer:  consumer,
		queueName: queueName,
		logger:    logger,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Start consumes the send queue until ctx is cancelled.
func (s *WorkerService) Start(ctx context.Context) error {
	s.logger.Info("worker started", zap.String("queue", s.queueName))

	if err := s.consumer.Consume(ctx, s.queueName, s.handle); err != nil {
		s.logger.Error("worker stopped with error", zap.String("queue", s.queueName), zap.Error(err))
		return err
	}

	s.logger.Info("worker stopped", zap.String("queue", s.queueName))
	return nil
}

func (s *WorkerService) handle(ctx context.Context, msg queue.SendMessage) error {
	if strings.TrimSpace(msg.NotificationID) == "" {
		s.logger.Warn("dropping send message without notificationId",
			zap.String("correlationId", msg.CorrelationID),
		)
		return nil
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	done := s.metrics.TrackInFlight(domain.ChannelEmail.String())
	defer done()

	return s.processor.ProcessSend(ctx, msg.NotificationID)
}
