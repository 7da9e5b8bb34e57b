package observability

import (
	"context"
	"testing"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "mixed case", level: " WARN ", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestCorrelationID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "cid-123")
	correlationID, ok := CorrelationIDFromContext(ctx)
	if !ok || correlationID != "cid-123" {
		t.Fatalf("CorrelationIDFromContext() = %q, %v; want cid-123, true", correlationID, ok)
	}

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("expected correlation id to be missing")
	}
	if _, ok := CorrelationIDFromContext(WithCorrelationID(context.Background(), "")); ok {
		t.Fatal("empty correlation id should count as missing")
	}
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	t.Parallel()

	if NewCorrelationID() == NewCorrelationID() {
		t.Fatal("correlation ids should differ")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	WithContextLogger(baseLogger, WithCorrelationID(context.Background(), "cid-789")).Info("with correlation")
	WithContextLogger(baseLogger, context.Background()).Info("without correlation")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()["correlationId"]; got != "cid-789" {
		t.Fatalf("correlationId=%v, want=%q", got, "cid-789")
	}
	if _, ok := entries[1].ContextMap()["correlationId"]; ok {
		t.Fatal("expected correlationId field to be absent")
	}

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}

func TestNotificationFields(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("state", NotificationFields(&domain.Notification{
		ID:            "n1",
		CorrelationID: "c1",
		Status:        domain.StatusRetrying,
		AttemptCount:  2,
	})...)

	fields := recorded.All()[0].ContextMap()
	if fields["notificationId"] != "n1" || fields["correlationId"] != "c1" || fields["status"] != "RETRYING" {
		t.Fatalf("fields = %v", fields)
	}
	if fields["attemptCount"] != int64(2) {
		t.Fatalf("attemptCount = %v (%T), want int64 2", fields["attemptCount"], fields["attemptCount"])
	}
	if NotificationFields(nil) != nil {
		t.Fatal("nil notification should produce no fields")
	}
}
