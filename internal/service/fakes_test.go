package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memNotificationRepo struct {
	mu    sync.Mutex
	byID  map[string]domain.Notification
	byKey map[string]string

	createErr error
	saveErr   error
	getErr    error
	// beforeCreate runs inside Create before the key check.
	beforeCreate func(r *memNotificationRepo)
	saves        int
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{byID: map[string]domain.Notification{}, byKey: map[string]string{}}
}

func (r *memNotificationRepo) insert(n domain.Notification) {
	if n.Version == 0 {
		n.Version = 1
	}
	r.byID[n.ID] = n
	r.byKey[n.IdempotencyKey] = n.ID
}

func (r *memNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.beforeCreate != nil {
		r.beforeCreate(r)
	}
	if r.createErr != nil {
		return r.createErr
	}
	if _, taken := r.byKey[n.IdempotencyKey]; taken {
		return fmt.Errorf("insert notification: %w", domain.ErrDuplicateKey)
	}
	r.insert(*n)
	n.Version = r.byID[n.ID].Version
	return nil
}

func (r *memNotificationRepo) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return nil, r.getErr
	}
	n, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

func (r *memNotificationRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	n := r.byID[id]
	return &n, nil
}

func (r *memNotificationRepo) Save(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	stored, ok := r.byID[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != n.Version {
		return domain.ErrConflict
	}
	n.Version++
	r.byID[n.ID] = *n
	return nil
}

func (r *memNotificationRepo) get(t *testing.T, id string) domain.Notification {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok {
		t.Fatalf("notification %s not stored", id)
	}
	return n
}

func (r *memNotificationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type memAttemptRepo struct {
	mu        sync.Mutex
	attempts  map[string][]domain.Attempt
	createErr error
	// beforeCreate runs inside Create before the duplicate check.
	beforeCreate func(r *memAttemptRepo)
}

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{attempts: map[string][]domain.Attempt{}}
}

func (r *memAttemptRepo) Create(_ context.Context, a *domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.beforeCreate != nil {
		r.beforeCreate(r)
	}
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.attempts[a.NotificationID] {
		if existing.AttemptNo == a.AttemptNo {
			return fmt.Errorf("insert attempt: %w", domain.ErrDuplicateKey)
		}
	}
	r.attempts[a.NotificationID] = append(r.attempts[a.NotificationID], *a)
	return nil
}

func (r *memAttemptRepo) ListByNotificationID(_ context.Context, id string) ([]domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]domain.Attempt(nil), r.attempts[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNo < out[j].AttemptNo })
	return out, nil
}

type memTemplateRepo struct {
	templates map[string]domain.Template
	err       error
}

func templateKey(key string, channel domain.Channel, language string) string {
	return key + "|" + channel.String() + "|" + language
}

func (r *memTemplateRepo) Find(_ context.Context, key string, channel domain.Channel, language string) (*domain.Template, error) {
	if r.err != nil {
		return nil, r.err
	}
	tpl, ok := r.templates[templateKey(key, channel, language)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrTemplateNotFound, key, channel, language)
	}
	return &tpl, nil
}

type publishedMessage struct {
	routingKey string
	msg        queue.Message
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failOn    map[string]error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failOn[routingKey]; err != nil {
		return err
	}
	p.published = append(p.published, publishedMessage{routingKey: routingKey, msg: msg})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.published...)
}

// scriptedProvider returns results in order, then succeeds.
type scriptedProvider struct {
	mu      sync.Mutex
	results []error
	panics  bool
	sent    []provider.Message
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Send(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panics {
		panic("transport exploded")
	}
	p.sent = append(p.sent, msg)
	if len(p.results) > 0 {
		err := p.results[0]
		p.results = p.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return &provider.ProviderResponse{StatusCode: 250, MessageID: "msg-" + msg.To}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type recordingLimiter struct {
	scopes  []string
	waitErr error
}

func (l *recordingLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (l *recordingLimiter) Wait(_ context.Context, scope string) error {
	l.scopes = append(l.scopes, scope)
	return l.waitErr
}

type harness struct {
	svc           *NotificationService
	notifications *memNotificationRepo
	attempts      *memAttemptRepo
	templates     *memTemplateRepo
	publisher     *recordingPublisher
	provider      *scriptedProvider
	now           time.Time
}

func newHarness(t *testing.T, logger *zap.Logger) *harness {
	t.Helper()

	h := &harness{
		notifications: newMemNotificationRepo(),
		attempts:      newMemAttemptRepo(),
		templates: &memTemplateRepo{templates: map[string]domain.Template{
			templateKey("welcome", domain.ChannelEmail, "en"): {
				Key:             "welcome",
				Channel:         domain.ChannelEmail,
				Language:        "en",
				SubjectTemplate: "Welcome {{name}}",
				BodyTemplate:    "<p>Hello {{name}}</p>",
			},
		}},
		publisher: &recordingPublisher{},
		provider:  &scriptedProvider{},
		now:       testNow,
	}

	svc, err := NewNotificationService(
		h.notifications,
		h.attempts,
		h.templates,
		h.publisher,
		h.provider,
		queue.DefaultTopology(),
		logger,
	)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}

	ids := 0
	svc.now = func() time.Time { return h.now }
	svc.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	h.svc = svc
	return h
}

var welcomeRequest = domain.CreateRequest{
	TemplateKey: "welcome",
	Language:    "en",
	Recipient:   "a@b.com",
	Payload:     map[string]any{"name": "Amine"},
}

func (h *harness) create(t *testing.T, key string) *CreateResult {
	t.Helper()

	result, err := h.svc.Create(context.Background(), welcomeRequest, domain.CreateOptions{IdempotencyKey: key, CorrelationID: "corr-" + key})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return result
}
