package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

var _ NotificationStore = (*GormNotificationRepo)(nil)

type GormNotificationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db, now: time.Now}
}

func (r *GormNotificationRepo) Insert(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return errors.New("notification is required")
	}

	model := notificationModelFromDomain(n)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	model.Version = 1

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*n = *notificationModelToDomain(model)
	return nil
}

func (r *GormNotificationRepo) Update(ctx context.Context, n *domain.Notification, expectedVersion int) error {
	if n == nil {
		return errors.New("notification is required")
	}

	now := r.now().UTC()
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND version = ?", n.ID, expectedVersion).
		Updates(map[string]any{
			"status":        n.Status,
			"retry_count":   n.RetryCount,
			"error_message": n.ErrorMessage,
			"processed_at":  n.ProcessedAt,
			"next_retry_at": n.NextRetryAt,
			"version":       expectedVersion + 1,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", n.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	n.Version = expectedVersion + 1
	n.UpdatedAt = now
	return nil
}

func (r *GormNotificationRepo) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// FindByIDForUpdate reads straight from the table; the version column guards
// the write that follows.
func (r *GormNotificationRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Notification, error) {
	return r.FindByID(ctx, id)
}

func (r *GormNotificationRepo) FindByRecipient(ctx context.Context, recipient string) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("recipient = ?", recipient).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) FindFailedRetryable(ctx context.Context, now time.Time, maxRetries, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", domain.StatusFailed, maxRetries).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) FindDeferred(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.StatusPending, now).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) FindOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) ([]domain.Notification, error) {
	var models []NotificationModel
	query := r.db.WithContext(ctx).Where("created_at < ?", cutoff)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return notificationModelsToDomain(models), nil
}

func (r *GormNotificationRepo) DeleteAll(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&NotificationModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
