// Package queue carries notification work over RabbitMQ.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// Publisher publishes messages to the notifications exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg Message) error
	Close() error
}

// MessageHandler handles one decoded send message. A nil error acks the
// delivery; any error nacks it without requeue.
type MessageHandler func(ctx context.Context, msg SendMessage) error

// Consumer consumes send messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// Topology names the exchanges, queues and routing keys the engine uses.
type Topology struct {
	Exchange             string
	SendQueue            string
	SendRoutingKey       string
	RetryQueue           string
	RetryRoutingKey      string
	DeadLetterExchange   string
	DeadLetterQueue      string
	DeadLetterRoutingKey string
	RetryDelays          []time.Duration
}

func DefaultTopology() Topology {
	return Topology{
		Exchange:             "notifications",
		SendQueue:            "notifications.send",
		SendRoutingKey:       "notification.send",
		RetryQueue:           "notifications.retry",
		RetryRoutingKey:      "notification.retry",
		DeadLetterExchange:   "notifications.dlx",
		DeadLetterQueue:      "notifications.dead",
		DeadLetterRoutingKey: "notification.dead",
		RetryDelays:          domain.RetrySchedule,
	}
}

func (t Topology) Validate() error {
	required := map[string]string{
		"exchange":                t.Exchange,
		"send queue":              t.SendQueue,
		"send routing key":        t.SendRoutingKey,
		"retry queue":             t.RetryQueue,
		"retry routing key":       t.RetryRoutingKey,
		"dead letter exchange":    t.DeadLetterExchange,
		"dead letter queue":       t.DeadLetterQueue,
		"dead letter routing key": t.DeadLetterRoutingKey,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("topology %s is required", name)
		}
	}
	if t.Exchange == t.DeadLetterExchange {
		return fmt.Errorf("dead letter exchange must differ from %q", t.Exchange)
	}
	if len(t.RetryDelays) == 0 {
		return fmt.Errorf("at least one retry delay is required")
	}
	for _, d := range t.RetryDelays {
		if d < time.Second {
			return fmt.Errorf("retry delay %v is below one second", d)
		}
	}
	return nil
}

// RetryTier is one delayed holding queue. Messages wait there for Delay and
// are then dead-lettered back onto the send route.
type RetryTier struct {
	Delay      time.Duration
	Queue      string
	RoutingKey string
}

func (t Topology) RetryTiers() []RetryTier {
	tiers := make([]RetryTier, 0, len(t.RetryDelays))
	for _, d := range t.RetryDelays {
		suffix := tierSuffix(d)
		tiers = append(tiers, RetryTier{
			Delay:      d,
			Queue:      t.RetryQueue + "." + suffix,
			RoutingKey: t.RetryRoutingKey + "." + suffix,
		})
	}
	return tiers
}

// RetryRoutingKeyFor returns the routing key of the shortest tier whose
// delay covers d, or the longest tier when none does.
func (t Topology) RetryRoutingKeyFor(d time.Duration) string {
	tiers := t.RetryTiers()
	if len(tiers) == 0 {
		return t.SendRoutingKey
	}
	best := tiers[len(tiers)-1]
	for _, tier := range tiers {
		if tier.Delay >= d && tier.Delay < best.Delay {
			best = tier
		}
	}
	return best.RoutingKey
}

func tierSuffix(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}
