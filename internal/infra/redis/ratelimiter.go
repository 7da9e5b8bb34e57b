package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "notifications:ratelimit"
	windowSeconds = 1
	backoffStep   = 10 * time.Millisecond
	backoffMax    = 100 * time.Millisecond
)

var (
	ErrLimiterNotInitialized = errors.New("rate limiter is not initialized")
	ErrScopeRequired         = errors.New("rate limit scope is required")
)

// fixedWindow increments the counter of the current one-second window and
// reports 1 while the counter is within the limit.
var fixedWindow = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.Limiter = (*WindowLimiter)(nil)

// WindowLimiter is a fixed-window limiter shared by every worker process
// pointing at the same Redis.
type WindowLimiter struct {
	client *goredis.Client
	limit  int64
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*WindowLimiter)

func WithClock(now func() time.Time) Option {
	return func(l *WindowLimiter) { l.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *WindowLimiter) { l.sleep = sleep }
}

func NewWindowLimiter(client *goredis.Client, perSecond int, opts ...Option) (*WindowLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if perSecond <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", perSecond)
	}

	l := &WindowLimiter{
		client: client,
		limit:  int64(perSecond),
		now:    time.Now,
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *WindowLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if l == nil || l.client == nil {
		return false, ErrLimiterNotInitialized
	}

	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return false, ErrScopeRequired
	}

	key := fmt.Sprintf("%s:%s:%d", keyPrefix, scope, l.now().UTC().Unix())
	result, err := fixedWindow.Run(ctx, l.client, []string{key}, l.limit, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until scope has capacity in the current window or ctx ends.
func (l *WindowLimiter) Wait(ctx context.Context, scope string) error {
	backoff := backoffStep
	for {
		allowed, err := l.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
