package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

// TemplateRepository resolves templates. Find returns domain.ErrTemplateNotFound
// when no template matches the combination.
type TemplateRepository interface {
	Find(ctx context.Context, key string, channel domain.Channel, language string) (*domain.Template, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) Find(ctx context.Context, key string, channel domain.Channel, language string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).
		Where("template_key = ? AND channel = ? AND language = ?", key, channel, language).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrTemplateNotFound, key, channel, language)
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}
