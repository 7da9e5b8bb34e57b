package ratelimit

import (
	"context"
	"testing"
)

func TestScope(t *testing.T) {
	t.Parallel()

	if got := Scope("email", "smtp"); got != "email:smtp" {
		t.Fatalf("Scope() = %q, want email:smtp", got)
	}
	if got := Scope("email", ""); got != "email" {
		t.Fatalf("Scope() = %q, want email", got)
	}
}

func TestUnlimitedHonoursCancellation(t *testing.T) {
	t.Parallel()

	var l Limiter = Unlimited{}
	allowed, err := l.Allow(context.Background(), "email")
	if err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v; want true, nil", allowed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "email"); err == nil {
		t.Fatal("Wait() on cancelled context should fail")
	}
}
