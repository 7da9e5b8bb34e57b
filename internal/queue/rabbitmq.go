package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second
)

var ErrNotConnected = errors.New("rabbitmq is not connected")

// RabbitMQ owns one broker connection and re-dials it when it drops.
type RabbitMQ struct {
	url      string
	topology Topology

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQ(url string, topology Topology) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if err := topology.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	r := &RabbitMQ{url: url, topology: topology}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Topology() Topology { return r.topology }

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Healthcheck reports whether the broker connection is open.
func (r *RabbitMQ) Healthcheck(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return ErrNotConnected
	}
	return nil
}

// EnsureTopology declares every exchange, queue and binding. Declarations
// are idempotent so it is safe to call on every start.
func (r *RabbitMQ) EnsureTopology(ctx context.Context) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	return declareTopology(ch, r.topology)
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}

	if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
		return nil, errReconnect
	}

	r.mu.RLock()
	conn = r.conn
	r.mu.RUnlock()

	ch, err = conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxBackoff)
}

// topologyDeclarer is the subset of *amqp.Channel used to declare topology.
type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

func declareTopology(ch topologyDeclarer, t Topology) error {
	for _, exchange := range []string{t.Exchange, t.DeadLetterExchange} {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
		}
	}

	if err := declareBoundQueue(ch, t.DeadLetterQueue, nil,
		binding{exchange: t.DeadLetterExchange, key: t.DeadLetterRoutingKey},
		binding{exchange: t.Exchange, key: t.DeadLetterRoutingKey},
	); err != nil {
		return err
	}

	// Rejected and nacked send messages land in the dead letter queue.
	if err := declareBoundQueue(ch, t.SendQueue,
		amqp.Table{
			"x-dead-letter-exchange":    t.DeadLetterExchange,
			"x-dead-letter-routing-key": t.DeadLetterRoutingKey,
		},
		binding{exchange: t.Exchange, key: t.SendRoutingKey},
	); err != nil {
		return err
	}

	// Expired retry messages return to the send route.
	for _, tier := range t.RetryTiers() {
		if err := declareBoundQueue(ch, tier.Queue,
			amqp.Table{
				"x-message-ttl":             tier.Delay.Milliseconds(),
				"x-dead-letter-exchange":    t.Exchange,
				"x-dead-letter-routing-key": t.SendRoutingKey,
			},
			binding{exchange: t.Exchange, key: tier.RoutingKey},
		); err != nil {
			return err
		}
	}

	return nil
}

type binding struct {
	exchange string
	key      string
}

func declareBoundQueue(ch topologyDeclarer, name string, args amqp.Table, bindings ...binding) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	for _, b := range bindings {
		if err := ch.QueueBind(name, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %s/%s: %w", name, b.exchange, b.key, err)
		}
	}
	return nil
}
