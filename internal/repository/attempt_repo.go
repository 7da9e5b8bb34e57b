package repository

import (
	"context"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository appends and lists delivery attempts. Attempts are never updated.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	ListByNotificationID(ctx context.Context, notificationID string) ([]domain.Attempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateError(err)
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByNotificationID(ctx context.Context, notificationID string) ([]domain.Attempt, error) {
	var models []AttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Order("attempt_no ASC").
		Find(&models).Error
	if err != nil {
		return nil, translateError(err)
	}

	attempts := make([]domain.Attempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
