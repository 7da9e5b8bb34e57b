package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// Dead letter reasons.
const (
	ReasonMaxAttemptsExceeded = "MAX_ATTEMPTS_EXCEEDED"
	ReasonPermanentFailure    = "PERMANENT_FAILURE"
	ReasonTemplateNotFound    = "TEMPLATE_NOT_FOUND"
)

var ErrNoTransport = errors.New("no delivery transport configured")

// CreateResult is returned by Create for both new and replayed requests.
type CreateResult struct {
	ID     string
	Status domain.Status
}

// NotificationDetails is a notification with its attempts, oldest first.
// Notification is nil when the id is unknown.
type NotificationDetails struct {
	Notification *domain.Notification
	Attempts     []domain.Attempt
}

func (d *NotificationDetails) Found() bool {
	return d != nil && d.Notification != nil
}

// NotificationService accepts delivery requests and drives each notification
// through PENDING, RETRYING, SENT and DEAD.
type NotificationService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	templates     repository.TemplateRepository
	publisher     queue.Publisher
	provider      provider.Provider
	topology      queue.Topology
	limiter       ratelimit.Limiter
	metrics       *observability.Metrics
	logger        *zap.Logger

	sendTimeout       time.Duration
	classifyPermanent bool
	now               func() time.Time
	newID             func() string
}

// NewNotificationService wires the orchestrator. transport may be nil in
// processes that only accept requests; ProcessSend then fails.
func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	templates repository.TemplateRepository,
	publisher queue.Publisher,
	transport provider.Provider,
	topology queue.Topology,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil || attempts == nil {
		return nil, fmt.Errorf("notification and attempt repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if err := topology.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		attempts:      attempts,
		templates:     templates,
		publisher:     publisher,
		provider:      transport,
		topology:      topology,
		limiter:       ratelimit.Unlimited{},
		logger:        logger,
		sendTimeout:   defaultSendTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *NotificationService) SetRateLimiter(limiter ratelimit.Limiter) {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	s.limiter = limiter
}

func (s *NotificationService) SetSendTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.sendTimeout = timeout
	}
}

// SetClassifyPermanent enables PERMANENT classification of failures the
// transport marks as non-retryable. When off every failure is TRANSIENT.
func (s *NotificationService) SetClassifyPermanent(enabled bool) {
	s.classifyPermanent = enabled
}

// Create persists a PENDING notification and enqueues its first send. A
// request whose idempotency key is already known returns the stored
// notification and enqueues nothing.
//
// A publish failure after the insert is logged and not returned: the
// notification stays PENDING with no message in flight.
func (s *NotificationService) Create(ctx context.Context, req domain.CreateRequest, opts domain.CreateOptions) (*CreateResult, error) {
	if err := domain.ValidateCreate(req, opts); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(opts.IdempotencyKey)
	existing, err := s.notifications.GetByIdempotencyKey(ctx, key)
	if err == nil {
		return s.replay(ctx, existing), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	now := s.now().UTC()
	n := &domain.Notification{
		ID:             s.newID(),
		IdempotencyKey: key,
		CorrelationID:  s.correlationID(ctx, opts.CorrelationID),
		TemplateKey:    strings.TrimSpace(req.TemplateKey),
		Language:       domain.NormalizeLanguage(req.Language),
		Channel:        domain.ChannelEmail,
		Recipient:      strings.TrimSpace(req.Recipient),
		Payload:        req.Payload,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		if !errors.Is(err, domain.ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to persist notification: %w", err)
		}

		// Lost the insert race to a concurrent request with the same key.
		existing, getErr := s.notifications.GetByIdempotencyKey(ctx, key)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load notification after duplicate key: %w", getErr)
		}
		return s.replay(ctx, existing), nil
	}
	s.metrics.IncCreated()

	logger := s.logger.With(observability.NotificationFields(n)...)
	msg := queue.SendMessage{NotificationID: n.ID, CorrelationID: n.CorrelationID}
	if err := s.publisher.Publish(ctx, s.topology.SendRoutingKey, msg); err != nil {
		s.metrics.IncPublishFailure(s.topology.SendRoutingKey)
		logger.Error("notification persisted but send publish failed", zap.Error(err))
	} else {
		logger.Info("notification accepted")
	}

	return &CreateResult{ID: n.ID, Status: n.Status}, nil
}

func (s *NotificationService) replay(ctx context.Context, existing *domain.Notification) *CreateResult {
	s.metrics.IncIdempotentReplay()
	observability.WithContextLogger(s.logger, ctx).Info("idempotent replay",
		zap.String("notificationId", existing.ID),
		zap.String("status", existing.Status.String()),
	)
	return &CreateResult{ID: existing.ID, Status: existing.Status}
}

func (s *NotificationService) correlationID(ctx context.Context, supplied string) string {
	if trimmed := strings.TrimSpace(supplied); trimmed != "" {
		return trimmed
	}
	if fromCtx, ok := observability.CorrelationIDFromContext(ctx); ok {
		return fromCtx
	}
	return observability.NewCorrelationID()
}

// GetByID returns the notification and its attempts. An unknown id is not
// an error; the result has a nil Notification and no attempts.
func (s *NotificationService) GetByID(ctx context.Context, id string) (*NotificationDetails, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return &NotificationDetails{Attempts: []domain.Attempt{}}, nil
	}

	n, err := s.notifications.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return &NotificationDetails{Attempts: []domain.Attempt{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}

	attempts, err := s.attempts.ListByNotificationID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	if attempts == nil {
		attempts = []domain.Attempt{}
	}

	return &NotificationDetails{Notification: n, Attempts: attempts}, nil
}
