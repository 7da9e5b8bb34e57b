package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository persists notifications. Create fails with
// domain.ErrDuplicateKey when the idempotency key is already taken, and
// Save fails with domain.ErrConflict when the stored version moved on.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error)
	Save(ctx context.Context, n *domain.Notification) error
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err)
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&model).Error
	if err != nil {
		return nil, translateError(err)
	}
	return notificationModelToDomain(&model), nil
}

// Save replaces the mutable fields of n guarded by its version.
func (r *GormNotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND version = ?", n.ID, n.Version).
		Updates(map[string]any{
			"status":          n.Status,
			"attempt_count":   n.AttemptCount,
			"next_attempt_at": n.NextAttemptAt,
			"version":         n.Version + 1,
			"updated_at":      now,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", n.ID).Count(&count).Error; err != nil {
			return translateError(err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	n.Version++
	n.UpdatedAt = now
	return nil
}
