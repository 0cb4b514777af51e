package repository

import (
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID           string        `gorm:"type:uuid;primaryKey"`
	Recipient    string        `gorm:"type:varchar(255);not null;index:idx_notifications_recipient_created,priority:1"`
	Type         string        `gorm:"type:varchar(64);not null"`
	Payload      string        `gorm:"type:varchar(4000);not null"`
	Status       domain.Status `gorm:"type:varchar(20);not null;index:idx_notifications_status_retry,priority:1"`
	RetryCount   int           `gorm:"not null;default:0;index:idx_notifications_status_retry,priority:2"`
	ErrorMessage *string       `gorm:"type:text"`
	CreatedAt    time.Time     `gorm:"not null;index:idx_notifications_recipient_created,priority:2"`
	ProcessedAt  *time.Time
	NextRetryAt  *time.Time
	Version      int `gorm:"not null;default:1"`
	UpdatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	NotificationID string                `gorm:"type:uuid;not null;index"`
	AttemptNumber  int                   `gorm:"not null"`
	Outcome        domain.AttemptOutcome `gorm:"type:varchar(20);not null"`
	Error          *string               `gorm:"type:text"`
	LatencyMs      int64                 `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		Recipient:    n.Recipient,
		Type:         n.Type,
		Payload:      n.Payload,
		Status:       n.Status,
		RetryCount:   n.RetryCount,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
		ProcessedAt:  n.ProcessedAt,
		NextRetryAt:  n.NextRetryAt,
		Version:      n.Version,
		UpdatedAt:    n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		Recipient:    m.Recipient,
		Type:         m.Type,
		Payload:      m.Payload,
		Status:       m.Status,
		RetryCount:   m.RetryCount,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
		NextRetryAt:  m.NextRetryAt,
		Version:      m.Version,
		UpdatedAt:    m.UpdatedAt,
	}
}

func notificationModelsToDomain(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Outcome:        a.Outcome,
		Error:          a.Error,
		LatencyMs:      a.LatencyMs,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Outcome:        m.Outcome,
		Error:          m.Error,
		LatencyMs:      m.LatencyMs,
		CreatedAt:      m.CreatedAt,
	}
}
