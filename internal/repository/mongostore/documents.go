// Package mongostore implements the repository ports on a MongoDB document store.
package mongostore

import (
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	notificationsCollection = "notifications"
	attemptsCollection      = "notification_attempts"
	templatesCollection     = "templates"
)

type notificationDocument struct {
	ID             string         `bson:"_id"`
	IdempotencyKey string         `bson:"idempotencyKey"`
	CorrelationID  string         `bson:"correlationId"`
	TemplateKey    string         `bson:"templateKey"`
	Language       string         `bson:"language"`
	Channel        string         `bson:"channel"`
	Recipient      string         `bson:"recipient"`
	Payload        map[string]any `bson:"payload"`
	Status         string         `bson:"status"`
	AttemptCount   int            `bson:"attemptCount"`
	NextAttemptAt  *time.Time     `bson:"nextAttemptAt"`
	Version        int            `bson:"version"`
	CreatedAt      time.Time      `bson:"createdAt"`
	UpdatedAt      time.Time      `bson:"updatedAt"`
}

type attemptDocument struct {
	ID             string    `bson:"_id"`
	NotificationID string    `bson:"notificationId"`
	AttemptNo      int       `bson:"attemptNo"`
	Provider       string    `bson:"provider"`
	Response       string    `bson:"response"`
	ErrorType      *string   `bson:"errorType,omitempty"`
	ErrorMessage   *string   `bson:"errorMessage,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
}

type templateDocument struct {
	ID              string    `bson:"_id"`
	Key             string    `bson:"key"`
	Channel         string    `bson:"channel"`
	Language        string    `bson:"language"`
	SubjectTemplate string    `bson:"subjectTemplate"`
	BodyTemplate    string    `bson:"bodyTemplate"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

func notificationToDocument(n *domain.Notification) notificationDocument {
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return notificationDocument{
		ID:             n.ID,
		IdempotencyKey: n.IdempotencyKey,
		CorrelationID:  n.CorrelationID,
		TemplateKey:    n.TemplateKey,
		Language:       n.Language,
		Channel:        n.Channel.String(),
		Recipient:      n.Recipient,
		Payload:        payload,
		Status:         n.Status.String(),
		AttemptCount:   n.AttemptCount,
		NextAttemptAt:  n.NextAttemptAt,
		Version:        n.Version,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func notificationFromDocument(d notificationDocument) *domain.Notification {
	payload, _ := normalizeValue(d.Payload).(map[string]any)

	n := &domain.Notification{
		ID:             d.ID,
		IdempotencyKey: d.IdempotencyKey,
		CorrelationID:  d.CorrelationID,
		TemplateKey:    d.TemplateKey,
		Language:       d.Language,
		Channel:        domain.Channel(d.Channel),
		Recipient:      d.Recipient,
		Payload:        payload,
		Status:         domain.Status(d.Status),
		AttemptCount:   d.AttemptCount,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.NextAttemptAt != nil {
		next := d.NextAttemptAt.UTC()
		n.NextAttemptAt = &next
	}
	return n
}

func attemptToDocument(a *domain.Attempt) attemptDocument {
	var errorType *string
	if a.ErrorType != nil {
		value := a.ErrorType.String()
		errorType = &value
	}

	return attemptDocument{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNo:      a.AttemptNo,
		Provider:       a.Provider,
		Response:       a.Response,
		ErrorType:      errorType,
		ErrorMessage:   a.ErrorMessage,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptFromDocument(d attemptDocument) domain.Attempt {
	var errorType *domain.ErrorType
	if d.ErrorType != nil {
		value := domain.ErrorType(*d.ErrorType)
		errorType = &value
	}

	return domain.Attempt{
		ID:             d.ID,
		NotificationID: d.NotificationID,
		AttemptNo:      d.AttemptNo,
		Provider:       d.Provider,
		Response:       d.Response,
		ErrorType:      errorType,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

func templateFromDocument(d templateDocument) *domain.Template {
	return &domain.Template{
		ID:              d.ID,
		Key:             d.Key,
		Channel:         domain.Channel(d.Channel),
		Language:        d.Language,
		SubjectTemplate: d.SubjectTemplate,
		BodyTemplate:    d.BodyTemplate,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

// normalizeValue turns decoded BSON containers into plain maps and slices
// so payloads look the same regardless of the backing store.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case nil:
		return map[string]any{}
	case bson.D:
		out := make(map[string]any, len(value))
		for _, elem := range value {
			out[elem.Key] = normalizeNested(elem.Value)
		}
		return out
	case bson.M:
		return normalizeValue(map[string]any(value))
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, elem := range value {
			out[k] = normalizeNested(elem)
		}
		return out
	default:
		return value
	}
}

func normalizeNested(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case bson.A:
		out := make([]any, 0, len(value))
		for _, elem := range value {
			out = append(out, normalizeNested(elem))
		}
		return out
	case []any:
		out := make([]any, 0, len(value))
		for _, elem := range value {
			out = append(out, normalizeNested(elem))
		}
		return out
	case bson.D, bson.M, map[string]any:
		return normalizeValue(value)
	default:
		return value
	}
}
