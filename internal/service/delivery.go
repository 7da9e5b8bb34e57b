package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/provider"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/render"
	"go.uber.org/zap"
)

// ProcessSend performs one delivery attempt for notificationID and records
// its outcome. Unknown and terminal notifications are ignored. Transport
// failures are recorded, never returned; store and broker errors are.
//
// A redelivery whose attempt is already recorded resumes from that attempt
// without calling the transport again.
func (s *NotificationService) ProcessSend(ctx context.Context, notificationID string) error {
	if s.provider == nil {
		return ErrNoTransport
	}

	base := observability.WithContextLogger(s.logger, ctx)
	logger := base.With(zap.String("notificationId", notificationID))

	n, err := s.notifications.GetByID(ctx, notificationID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("send skipped: notification not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if n.Status.IsTerminal() {
		logger.Debug("send skipped: notification is terminal", zap.String("status", n.Status.String()))
		return nil
	}

	attemptNo := n.AttemptCount + 1
	logger = base.With(observability.NotificationFields(n)...).With(zap.Int("attemptNo", attemptNo))

	recorded, err := s.findAttempt(ctx, n.ID, attemptNo)
	if err != nil {
		return err
	}
	if recorded != nil {
		logger.Warn("attempt already recorded, resuming from it")
		return s.applyAttempt(ctx, n, recorded, logger)
	}

	if s.templates == nil {
		return fmt.Errorf("template repository is not configured")
	}
	tpl, err := s.templates.Find(ctx, n.TemplateKey, n.Channel, n.Language)
	if errors.Is(err, domain.ErrTemplateNotFound) {
		return s.failMissingTemplate(ctx, n, attemptNo, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to load template: %w", err)
	}

	rendered := render.RenderMessage(tpl.SubjectTemplate, tpl.BodyTemplate, n.Payload)
	resp, sendErr := s.send(ctx, n, provider.Message{
		To:            n.Recipient,
		Subject:       rendered.Subject,
		HTML:          rendered.Body,
		CorrelationID: n.CorrelationID,
	}, logger)

	if sendErr == nil {
		return s.markSent(ctx, n, attemptNo, resp, logger)
	}
	return s.markFailed(ctx, n, attemptNo, resp, sendErr, logger)
}

// send calls the transport under the rate limiter and send timeout. A
// panicking transport is reported as a failed send.
func (s *NotificationService) send(
	ctx context.Context,
	n *domain.Notification,
	msg provider.Message,
	logger *zap.Logger,
) (resp *provider.ProviderResponse, err error) {
	channel := n.Channel.String()

	if waitErr := s.limiter.Wait(ctx, ratelimit.Scope(channel, s.provider.Name())); waitErr != nil {
		logger.Warn("rate limiter unavailable, sending without it", zap.Error(waitErr))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := s.now()
	defer func() {
		s.metrics.ObserveNotificationSendDuration(channel, s.now().Sub(start))
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("transport panic: %v", r)
		}
	}()

	return s.provider.Send(sendCtx, msg)
}

func (s *NotificationService) markSent(
	ctx context.Context,
	n *domain.Notification,
	attemptNo int,
	resp *provider.ProviderResponse,
	logger *zap.Logger,
) error {
	if err := s.recordAttempt(ctx, n, attemptNo, s.provider.Name(), responseSummary(resp), nil, ""); err != nil {
		return s.resolveAttemptConflict(ctx, n, attemptNo, err, logger)
	}
	s.metrics.IncAttempt(observability.OutcomeSent)
	return s.applySent(ctx, n, attemptNo, logger)
}

func (s *NotificationService) markFailed(
	ctx context.Context,
	n *domain.Notification,
	attemptNo int,
	resp *provider.ProviderResponse,
	sendErr error,
	logger *zap.Logger,
) error {
	errType := domain.ErrorTypeTransient
	if s.classifyPermanent && provider.IsPermanent(sendErr) {
		errType = domain.ErrorTypePermanent
	}

	if err := s.recordAttempt(ctx, n, attemptNo, s.provider.Name(), responseSummary(resp), &errType, sendErr.Error()); err != nil {
		return s.resolveAttemptConflict(ctx, n, attemptNo, err, logger)
	}
	s.metrics.IncAttempt(strings.ToLower(errType.String()))

	return s.applyFailed(ctx, n, attemptNo, errType, logger.With(zap.Error(sendErr)))
}

// failMissingTemplate ends the notification at once: a missing template
// will not appear on retry.
func (s *NotificationService) failMissingTemplate(ctx context.Context, n *domain.Notification, attemptNo int, logger *zap.Logger) error {
	errType := domain.ErrorTypePermanent
	if err := s.recordAttempt(ctx, n, attemptNo, "", "", &errType, domain.TemplateNotFoundMessage); err != nil {
		return s.resolveAttemptConflict(ctx, n, attemptNo, err, logger)
	}
	s.metrics.IncAttempt(observability.OutcomePermanent)
	return s.applyMissingTemplate(ctx, n, attemptNo, logger)
}

// applyAttempt moves n to the state that follows a recorded attempt.
func (s *NotificationService) applyAttempt(ctx context.Context, n *domain.Notification, a *domain.Attempt, logger *zap.Logger) error {
	switch {
	case a.Succeeded():
		return s.applySent(ctx, n, a.AttemptNo, logger)
	case *a.ErrorType == domain.ErrorTypePermanent && a.ErrorMessage != nil && *a.ErrorMessage == domain.TemplateNotFoundMessage:
		return s.applyMissingTemplate(ctx, n, a.AttemptNo, logger)
	default:
		return s.applyFailed(ctx, n, a.AttemptNo, *a.ErrorType, logger)
	}
}

func (s *NotificationService) applySent(ctx context.Context, n *domain.Notification, attemptNo int, logger *zap.Logger) error {
	n.AttemptCount = attemptNo
	n.Status = domain.StatusSent
	n.NextAttemptAt = nil
	if err := s.save(ctx, n); err != nil {
		return s.settleRace(err, logger, "failed to save sent notification")
	}

	s.metrics.IncNotificationSent(n.Channel.String())
	logger.Info("notification sent")
	return nil
}

func (s *NotificationService) applyFailed(
	ctx context.Context,
	n *domain.Notification,
	attemptNo int,
	errType domain.ErrorType,
	logger *zap.Logger,
) error {
	n.AttemptCount = attemptNo
	logger = logger.With(zap.String("errorType", errType.String()))

	switch {
	case errType == domain.ErrorTypePermanent:
		return s.deadLetter(ctx, n, ReasonPermanentFailure, logger)
	case attemptNo >= domain.MaxAttempts:
		return s.deadLetter(ctx, n, ReasonMaxAttemptsExceeded, logger)
	}

	delay := domain.RetryDelay(attemptNo)
	next := s.now().UTC().Add(delay)
	n.Status = domain.StatusRetrying
	n.NextAttemptAt = &next
	if err := s.save(ctx, n); err != nil {
		return s.settleRace(err, logger, "failed to save retrying notification")
	}

	route := s.topology.RetryRoutingKeyFor(delay)
	msg := queue.SendMessage{NotificationID: n.ID, CorrelationID: n.CorrelationID, ScheduledAt: &next}
	if err := s.publisher.Publish(ctx, route, msg); err != nil {
		s.metrics.IncPublishFailure(route)
		return fmt.Errorf("failed to publish retry: %w", err)
	}

	s.metrics.IncRetryScheduled(n.Channel.String())
	logger.Warn("send failed, retry scheduled",
		zap.Duration("delay", delay),
		zap.Time("nextAttemptAt", next),
	)
	return nil
}

func (s *NotificationService) applyMissingTemplate(ctx context.Context, n *domain.Notification, attemptNo int, logger *zap.Logger) error {
	n.AttemptCount = attemptNo
	n.Status = domain.StatusDead
	n.NextAttemptAt = nil
	if err := s.save(ctx, n); err != nil {
		return s.settleRace(err, logger, "failed to save dead notification")
	}

	s.metrics.IncNotificationDead(n.Channel.String(), ReasonTemplateNotFound)
	logger.Error("template not found, notification is dead",
		zap.String("templateKey", n.TemplateKey),
		zap.String("language", n.Language),
	)
	return nil
}

func (s *NotificationService) deadLetter(ctx context.Context, n *domain.Notification, reason string, logger *zap.Logger) error {
	n.Status = domain.StatusDead
	n.NextAttemptAt = nil
	if err := s.save(ctx, n); err != nil {
		return s.settleRace(err, logger, "failed to save dead notification")
	}
	s.metrics.IncNotificationDead(n.Channel.String(), reason)

	msg := queue.DeadLetterMessage{NotificationID: n.ID, CorrelationID: n.CorrelationID, Reason: reason}
	if err := s.publisher.Publish(ctx, s.topology.DeadLetterRoutingKey, msg); err != nil {
		s.metrics.IncPublishFailure(s.topology.DeadLetterRoutingKey)
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	logger.Error("notification dead-lettered", zap.String("reason", reason))
	return nil
}

// resolveAttemptConflict handles a failed attempt insert. A duplicate
// attempt number with an unchanged notification means an earlier delivery
// recorded the attempt but never saved its outcome; that outcome is applied
// now. When the notification moved on, another worker owns it.
func (s *NotificationService) resolveAttemptConflict(
	ctx context.Context,
	n *domain.Notification,
	attemptNo int,
	err error,
	logger *zap.Logger,
) error {
	if !errors.Is(err, domain.ErrDuplicateKey) {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	current, getErr := s.notifications.GetByID(ctx, n.ID)
	if getErr != nil {
		return fmt.Errorf("failed to reload notification after duplicate attempt: %w", getErr)
	}
	if current.Version != n.Version || current.Status.IsTerminal() {
		logger.Warn("concurrent delivery detected, dropping duplicate", zap.Error(err))
		return nil
	}

	recorded, findErr := s.findAttempt(ctx, n.ID, attemptNo)
	if findErr != nil {
		return findErr
	}
	if recorded == nil {
		return fmt.Errorf("attempt %d reported as duplicate but not found: %w", attemptNo, err)
	}

	logger.Warn("attempt already recorded, resuming from it")
	return s.applyAttempt(ctx, current, recorded, logger)
}

func (s *NotificationService) findAttempt(ctx context.Context, notificationID string, attemptNo int) (*domain.Attempt, error) {
	attempts, err := s.attempts.ListByNotificationID(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	for i := range attempts {
		if attempts[i].AttemptNo == attemptNo {
			return &attempts[i], nil
		}
	}
	return nil, nil
}

func (s *NotificationService) recordAttempt(
	ctx context.Context,
	n *domain.Notification,
	attemptNo int,
	providerName string,
	response string,
	errType *domain.ErrorType,
	errMessage string,
) error {
	attempt := &domain.Attempt{
		ID:             s.newID(),
		NotificationID: n.ID,
		AttemptNo:      attemptNo,
		Provider:       providerName,
		Response:       response,
		ErrorType:      errType,
		CreatedAt:      s.now().UTC(),
	}
	if errType != nil {
		attempt.ErrorMessage = &errMessage
	}
	return s.attempts.Create(ctx, attempt)
}

func (s *NotificationService) save(ctx context.Context, n *domain.Notification) error {
	n.UpdatedAt = s.now().UTC()
	return s.notifications.Save(ctx, n)
}

// settleRace acks deliveries that lost to a concurrent worker processing the
// same notification. Other errors are wrapped and returned.
func (s *NotificationService) settleRace(err error, logger *zap.Logger, action string) error {
	if errors.Is(err, domain.ErrDuplicateKey) || errors.Is(err, domain.ErrConflict) {
		logger.Warn("concurrent delivery detected, dropping duplicate", zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", action, err)
}

func responseSummary(resp *provider.ProviderResponse) string {
	if resp == nil {
		return ""
	}
	if id := strings.TrimSpace(resp.MessageID); id != "" {
		return id
	}
	return strings.TrimSpace(resp.Body)
}
