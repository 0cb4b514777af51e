package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

var _ AttemptStore = (*GormAttemptRepo)(nil)

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a == nil {
		return errors.New("attempt is required")
	}

	model := attemptModelFromDomain(a)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*a = *attemptModelToDomain(model)
	return nil
}

func (r *GormAttemptRepo) FindByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	if _, err := uuid.Parse(notificationID); err != nil {
		return []domain.DeliveryAttempt{}, nil
	}

	var models []DeliveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("attempt_number ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormAttemptRepo) DeleteByNotificationIDs(ctx context.Context, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("notification_id IN ?", notificationIDs).
		Delete(&DeliveryAttemptModel{}).Error
}
