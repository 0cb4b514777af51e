package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"go.uber.org/zap"
)

// Deliverer pushes one stored notification.
type Deliverer interface {
	Deliver(ctx context.Context, identity domain.Identity, id string) error
}

// Reader loads the current stored state of a notification.
type Reader interface {
	FindByID(ctx context.Context, id string) (*domain.Notification, error)
}

// Dispatcher hands a freshly created notification over for its first push and
// returns the record the caller should report.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
}

// SyncDispatcher delivers in the caller's goroutine. A failed push is already
// recorded on the notification, so it is not reported as an error.
type SyncDispatcher struct {
	deliverer Deliverer
	reader    Reader
	logger    *zap.Logger
}

func NewSyncDispatcher(deliverer Deliverer, reader Reader, logger *zap.Logger) (*SyncDispatcher, error) {
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncDispatcher{deliverer: deliverer, reader: reader, logger: logger}, nil
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	err := d.deliverer.Deliver(ctx, domain.SystemIdentity, n.ID)

	var deliveryErr *domain.DeliveryError
	if err != nil && !errors.As(err, &deliveryErr) {
		return n, err
	}

	current, readErr := d.reader.FindByID(ctx, n.ID)
	if readErr != nil {
		observability.NotificationLogger(d.logger, ctx, n).Warn("failed to reload notification after delivery", zap.Error(readErr))
		return n, nil
	}
	return current, nil
}

// QueueDispatcher publishes a delivery message for the worker pool. When the
// broker refuses the message the notification is delivered synchronously.
type QueueDispatcher struct {
	publisher queue.Publisher
	fallback  Dispatcher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewQueueDispatcher(publisher queue.Publisher, fallback Dispatcher, logger *zap.Logger) (*QueueDispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{publisher: publisher, fallback: fallback, logger: logger}, nil
}

func (d *QueueDispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.DeliveryMessage{
		NotificationID: n.ID,
		CorrelationID:  correlationID,
	}

	err := d.publisher.Publish(ctx, queue.DeliveryQueue, msg)
	if err == nil {
		d.metrics.IncDispatch("published")
		return n, nil
	}

	d.metrics.IncDispatch("publish_failed")
	observability.NotificationLogger(d.logger, ctx, n).Error("failed to publish delivery message",
		zap.String("queue", queue.DeliveryQueue),
		zap.Error(err),
	)
	if d.fallback == nil {
		return n, fmt.Errorf("failed to publish delivery message: %w", err)
	}
	return d.fallback.Dispatch(ctx, n)
}
