package provider

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogProvider writes messages to the logger instead of delivering them.
// It is meant for local development.
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	p.logger.Info("email delivered to log",
		zap.String("messageId", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("htmlBytes", len(msg.HTML)),
		zap.String("correlationId", msg.CorrelationID),
	)

	return &ProviderResponse{MessageID: id, Body: "logged"}, nil
}
