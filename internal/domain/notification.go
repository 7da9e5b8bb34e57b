package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRetrying Status = "RETRYING"
	StatusSent     Status = "SENT"
	StatusDead     Status = "DEAD"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusSent, StatusDead:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery attempts may happen.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusDead
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel. Only email is delivered today.
type Channel string

const ChannelEmail Channel = "email"

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	return c == ChannelEmail
}

// DefaultLanguage is used when a request carries no language.
const DefaultLanguage = "en"

// MaxAttempts bounds delivery attempts per notification.
const MaxAttempts = 5

// Notification is one accepted delivery request.
type Notification struct {
	ID             string
	IdempotencyKey string
	CorrelationID  string
	TemplateKey    string
	Language       string
	Channel        Channel
	Recipient      string
	Payload        map[string]any
	Status         Status
	AttemptCount   int
	NextAttemptAt  *time.Time
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateRequest is the caller-supplied body of a delivery request.
type CreateRequest struct {
	TemplateKey string
	Language    string
	Recipient   string
	Payload     map[string]any
}

// CreateOptions carries the out-of-band values of a delivery request.
type CreateOptions struct {
	IdempotencyKey string
	CorrelationID  string
}

// ValidateCreate checks a delivery request and returns a *ValidationError
// for the first rejected field. It does not modify its inputs.
func ValidateCreate(req CreateRequest, opts CreateOptions) error {
	key := strings.TrimSpace(opts.IdempotencyKey)
	if key == "" {
		return newValidationError("idempotencyKey", "is required")
	}
	if len(key) > 255 {
		return newValidationError("idempotencyKey", "must be at most 255 characters")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return newValidationError("recipient", "is required")
	}
	if strings.TrimSpace(req.TemplateKey) == "" {
		return newValidationError("templateKey", "is required")
	}
	return nil
}

// NormalizeLanguage returns the trimmed language or DefaultLanguage when blank.
func NormalizeLanguage(language string) string {
	if trimmed := strings.TrimSpace(language); trimmed != "" {
		return trimmed
	}
	return DefaultLanguage
}
