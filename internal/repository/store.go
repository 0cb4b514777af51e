package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// NotificationStore persists notification records. Writes are atomic per
// record; Update only applies when the stored version matches expectedVersion
// and fails with domain.ErrConflict otherwise. Insert and Update refresh the
// caller's ID, Version and UpdatedAt only on success.
type NotificationStore interface {
	Insert(ctx context.Context, n *domain.Notification) error
	Update(ctx context.Context, n *domain.Notification, expectedVersion int) error
	FindByID(ctx context.Context, id string) (*domain.Notification, error)
	// FindByIDForUpdate always reads the durable record, bypassing any cache.
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Notification, error)
	FindByRecipient(ctx context.Context, recipient string) ([]domain.Notification, error)
	FindFailedRetryable(ctx context.Context, now time.Time, maxRetries, limit int) ([]domain.Notification, error)
	// FindDeferred lists PENDING records whose first push was put off and is now due.
	FindDeferred(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	FindOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) ([]domain.Notification, error)
	DeleteAll(ctx context.Context, ids []string) (int64, error)
	CountByStatus(ctx context.Context, status domain.Status) (int64, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *domain.DeliveryAttempt) error
	FindByNotificationID(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error)
	DeleteByNotificationIDs(ctx context.Context, notificationIDs []string) error
}
