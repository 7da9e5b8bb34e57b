package domain

import "time"

// ErrorType classifies a failed delivery attempt.
type ErrorType string

const (
	ErrorTypeTransient ErrorType = "TRANSIENT"
	ErrorTypePermanent ErrorType = "PERMANENT"
)

func (t ErrorType) String() string { return string(t) }

// TemplateNotFoundMessage is recorded on the attempt that finds no template.
const TemplateNotFoundMessage = "TEMPLATE_NOT_FOUND"

// Attempt is an append-only audit record of one delivery attempt.
// ErrorType and ErrorMessage are nil on success.
type Attempt struct {
	ID             string
	NotificationID string
	AttemptNo      int
	Provider       string
	Response       string
	ErrorType      *ErrorType
	ErrorMessage   *string
	CreatedAt      time.Time
}

func (a Attempt) Succeeded() bool {
	return a.ErrorType == nil
}
