package app

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/notification-engine/internal/config"
	"github.com/kursadbilgin/notification-engine/internal/infra/redis"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func baseConfig() *config.Config {
	return &config.Config{
		MailTransport:      config.MailTransportLog,
		MailFrom:           "no-reply@localhost",
		SMTPHost:           "localhost",
		SMTPPort:           1025,
		WebhookURL:         "http://localhost:8025/webhook",
		SendTimeoutSeconds: 10,
	}
}

func TestNewTransportSelectsImplementation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transport string
		mutate    func(*config.Config)
		wantName  string
	}{
		{transport: config.MailTransportSMTP, wantName: "smtp"},
		{transport: config.MailTransportWebhook, wantName: "webhook"},
		{transport: config.MailTransportLog, wantName: "log"},
		{
			transport: config.MailTransportPostmark,
			mutate:    func(c *config.Config) { c.PostmarkServerToken = "server-token" },
			wantName:  "postmark",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.transport, func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig()
			cfg.MailTransport = tt.transport
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			transport, err := NewTransport(cfg, zap.NewNop())
			if err != nil {
				t.Fatalf("NewTransport() error = %v", err)
			}
			if transport.Name() != tt.wantName {
				t.Fatalf("Name() = %s, want %s", transport.Name(), tt.wantName)
			}
		})
	}
}

func TestNewTransportRejectsUnknown(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.MailTransport = "pigeon"
	if _, err := NewTransport(cfg, nil); err == nil {
		t.Fatal("NewTransport() should reject an unknown transport")
	}
}

func TestNewRateLimiter(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	limiter, err := NewRateLimiter(cfg, nil)
	if err != nil {
		t.Fatalf("NewRateLimiter(disabled) error = %v", err)
	}
	if _, ok := limiter.(ratelimit.Unlimited); !ok {
		t.Fatalf("limiter = %T, want ratelimit.Unlimited", limiter)
	}

	cfg.RateLimitPerSec = 5
	if _, err := NewRateLimiter(cfg, nil); err == nil {
		t.Fatal("NewRateLimiter() should require a redis client when enabled")
	}

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err = NewRateLimiter(cfg, client)
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}
	if _, ok := limiter.(*redis.WindowLimiter); !ok {
		t.Fatalf("limiter = %T, want *redis.WindowLimiter", limiter)
	}
}

func TestRuntimeCloseRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	var order []int
	boom := errors.New("boom")
	rt := &Runtime{}
	rt.AddCloser(func() error { order = append(order, 1); return nil })
	rt.AddCloser(func() error { order = append(order, 2); return boom })

	if err := rt.Close(); !errors.Is(err, boom) {
		t.Fatalf("Close() error = %v, want %v", err, boom)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("close order = %v, want [2 1]", order)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
