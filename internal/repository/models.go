package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// JSONMap stores a notification payload in a jsonb column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(encoded), nil
}

func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payload column type %T", src)
	}

	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("failed to decode payload: %w", err)
		}
	}
	*m = decoded
	return nil
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	IdempotencyKey string         `gorm:"type:varchar(255);not null"`
	CorrelationID  string         `gorm:"type:varchar(255);not null"`
	TemplateKey    string         `gorm:"type:varchar(255);not null"`
	Language       string         `gorm:"type:varchar(16);not null"`
	Channel        domain.Channel `gorm:"type:varchar(16);not null"`
	Recipient      string         `gorm:"type:varchar(320);not null"`
	Payload        JSONMap        `gorm:"type:jsonb;not null"`
	Status         domain.Status  `gorm:"type:varchar(16);not null"`
	AttemptCount   int            `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time     `gorm:"type:timestamptz"`
	Version        int            `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// AttemptModel is the persistence model for notification_attempts.
type AttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null"`
	AttemptNo      int     `gorm:"not null"`
	Provider       string  `gorm:"type:varchar(64);not null"`
	Response       string  `gorm:"type:text;not null;default:''"`
	ErrorType      *string `gorm:"type:varchar(16)"`
	ErrorMessage   *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (AttemptModel) TableName() string {
	return "notification_attempts"
}

// TemplateModel is the persistence model for templates.
type TemplateModel struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	Key             string         `gorm:"column:template_key;type:varchar(255);not null"`
	Channel         domain.Channel `gorm:"type:varchar(16);not null"`
	Language        string         `gorm:"type:varchar(16);not null"`
	SubjectTemplate string         `gorm:"type:text;not null"`
	BodyTemplate    string         `gorm:"type:text;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:             n.ID,
		IdempotencyKey: n.IdempotencyKey,
		CorrelationID:  n.CorrelationID,
		TemplateKey:    n.TemplateKey,
		Language:       n.Language,
		Channel:        n.Channel,
		Recipient:      n.Recipient,
		Payload:        JSONMap(n.Payload),
		Status:         n.Status,
		AttemptCount:   n.AttemptCount,
		NextAttemptAt:  n.NextAttemptAt,
		Version:        n.Version,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:             m.ID,
		IdempotencyKey: m.IdempotencyKey,
		CorrelationID:  m.CorrelationID,
		TemplateKey:    m.TemplateKey,
		Language:       m.Language,
		Channel:        m.Channel,
		Recipient:      m.Recipient,
		Payload:        map[string]any(m.Payload),
		Status:         m.Status,
		AttemptCount:   m.AttemptCount,
		NextAttemptAt:  m.NextAttemptAt,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.Attempt) *AttemptModel {
	if a == nil {
		return nil
	}

	var errorType *string
	if a.ErrorType != nil {
		value := a.ErrorType.String()
		errorType = &value
	}

	return &AttemptModel{
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

func attemptModelToDomain(m *AttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	var errorType *domain.ErrorType
	if m.ErrorType != nil {
		value := domain.ErrorType(*m.ErrorType)
		errorType = &value
	}

	return &domain.Attempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNo:      m.AttemptNo,
		Provider:       m.Provider,
		Response:       m.Response,
		ErrorType:      errorType,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:              m.ID,
		Key:             m.Key,
		Channel:         m.Channel,
		Language:        m.Language,
		SubjectTemplate: m.SubjectTemplate,
		BodyTemplate:    m.BodyTemplate,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
