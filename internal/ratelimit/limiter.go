// Package ratelimit throttles outbound sends per delivery scope.
package ratelimit

import "context"

// Limiter gates delivery throughput. A scope is typically "<channel>:<provider>".
type Limiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

// Unlimited never throttles. It is used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error { return ctx.Err() }

// Scope builds the limiter key for a channel and provider pair.
func Scope(channel, provider string) string {
	if provider == "" {
		return channel
	}
	return channel + ":" + provider
}
