package app

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/config"
	infraredis "github.com/kursadbilgin/notification-engine/internal/infra/redis"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewTransport builds the delivery transport selected by MAIL_TRANSPORT.
func NewTransport(cfg *config.Config, logger *zap.Logger) (provider.Provider, error) {
	var (
		transport provider.Provider
		err       error
	)

	switch cfg.MailTransport {
	case config.MailTransportSMTP:
		transport, err = newSMTP(cfg)
	case config.MailTransportPostmark:
		transport, err = newPostmark(cfg)
	case config.MailTransportWebhook:
		transport, err = newWebhook(cfg)
	case config.MailTransportLog:
		transport = provider.NewLogProvider(logger)
	default:
		err = fmt.Errorf("unsupported mail transport %q", cfg.MailTransport)
	}
	if err != nil {
		return nil, err
	}
	return transport, nil
}

func newSMTP(cfg *config.Config) (provider.Provider, error) {
	p, err := provider.NewSMTPProvider(provider.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newPostmark(cfg *config.Config) (provider.Provider, error) {
	p, err := provider.NewPostmarkProvider(provider.PostmarkConfig{
		ServerToken:  cfg.PostmarkServerToken,
		AccountToken: cfg.PostmarkAccountToken,
		From:         cfg.MailFrom,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newWebhook(cfg *config.Config) (provider.Provider, error) {
	p, err := provider.NewWebhookProvider(cfg.WebhookURL, cfg.SendTimeout())
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewRateLimiter returns the Redis window limiter, or ratelimit.Unlimited
// when RATE_LIMIT_PER_SEC is 0. client may be nil in that case.
func NewRateLimiter(cfg *config.Config, client *goredis.Client) (ratelimit.Limiter, error) {
	if !cfg.RateLimitEnabled() {
		return ratelimit.Unlimited{}, nil
	}
	limiter, err := infraredis.NewWindowLimiter(client, cfg.RateLimitPerSec)
	if err != nil {
		return nil, err
	}
	return limiter, nil
}

// ConnectRateLimiter dials Redis when rate limiting is enabled and registers
// the client with rt.
func (rt *Runtime) ConnectRateLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if !rt.Config.RateLimitEnabled() {
		rt.Logger.Info("rate limiting disabled")
		return ratelimit.Unlimited{}, nil
	}

	client, err := infraredis.NewRedis(ctx, rt.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	rt.AddCloser(client.Close)
	rt.Checks["redis"] = infraredis.Healthcheck(client)

	return NewRateLimiter(rt.Config, client)
}
