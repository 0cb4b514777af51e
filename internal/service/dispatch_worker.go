package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DispatchWorker consumes delivery messages and pushes the referenced
// notifications through the engine.
type DispatchWorker struct {
	consumer    queue.Consumer
	deliverer   Deliverer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewDispatchWorker(
	consumer queue.Consumer,
	deliverer Deliverer,
	concurrency int,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		consumer:    consumer,
		deliverer:   deliverer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the consumers until ctx is canceled or one of them fails.
func (w *DispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DeliveryQueue),
			)

			if err := w.consumer.Consume(groupCtx, queue.DeliveryQueue, w.processMessage); err != nil {
				w.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only when the message should be retried
// by the broker.
func (w *DispatchWorker) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	logger := observability.WithContextLogger(w.logger, ctx)

	err := w.deliverer.Deliver(ctx, domain.SystemIdentity, msg.NotificationID)

	var deliveryErr *domain.DeliveryError
	switch {
	case err == nil:
		w.metrics.IncDispatch("acked")
		return nil
	case errors.As(err, &deliveryErr):
		// The failure is recorded on the notification and the retry sweep owns it now.
		w.metrics.IncDispatch("acked")
		return nil
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("notification not found, dropping delivery message",
			zap.String(observability.FieldNotificationID, msg.NotificationID),
		)
		w.metrics.IncDispatch("acked")
		return nil
	case errors.Is(err, domain.ErrIllegalState):
		logger.Info("notification no longer deliverable, dropping delivery message",
			zap.String(observability.FieldNotificationID, msg.NotificationID),
			zap.Error(err),
		)
		w.metrics.IncDispatch("acked")
		return nil
	default:
		w.metrics.IncDispatch("requeued")
		return fmt.Errorf("deliver notification %s: %w", msg.NotificationID, err)
	}
}
