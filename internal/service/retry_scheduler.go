package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetrySweepInterval = 5 * time.Minute
	defaultRetrySweepLimit    = 100
)

// Retrier re-attempts one notification. Deliver serves records whose first
// push was deferred; Retry serves FAILED ones.
type Retrier interface {
	Deliver(ctx context.Context, identity domain.Identity, id string) error
	Retry(ctx context.Context, identity domain.Identity, id string) error
}

// SweepReport summarizes one retry sweep.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Retried   int `json:"retried"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
}

// RetryScheduler periodically retries FAILED notifications whose backoff has
// elapsed and that still have retries left, and pushes PENDING ones whose
// first attempt was deferred by an open breaker.
type RetryScheduler struct {
	notifications repository.NotificationStore
	retrier       Retrier
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	limit         int
	maxRetries    int
	now           func() time.Time
}

func NewRetryScheduler(
	notifications repository.NotificationStore,
	retrier Retrier,
	interval time.Duration,
	limit int,
	maxRetries int,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if retrier == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if interval <= 0 {
		interval = defaultRetrySweepInterval
	}
	if limit <= 0 {
		limit = defaultRetrySweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		notifications: notifications,
		retrier:       retrier,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		maxRetries:    maxRetries,
		now:           time.Now,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweep initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep retries every due notification once. Per-item failures are logged
// and counted; only a failed scan returns an error.
func (s *RetryScheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now().UTC()

	due, err := s.notifications.FindFailedRetryable(ctx, now, s.maxRetries, s.limit)
	if err != nil {
		return report, fmt.Errorf("failed to fetch retryable notifications: %w", domain.NewStoreError("find retryable", err))
	}
	if room := s.limit - len(due); room > 0 {
		deferred, err := s.notifications.FindDeferred(ctx, now, room)
		if err != nil {
			return report, fmt.Errorf("failed to fetch deferred notifications: %w", domain.NewStoreError("find deferred", err))
		}
		due = append(due, deferred...)
	}
	report.Scanned = len(due)

	for i := range due {
		if ctx.Err() != nil {
			break
		}

		id := due[i].ID
		sweepCtx, correlationID := observability.EnsureCorrelationID(ctx)
		var err error
		if due[i].Status == domain.StatusPending {
			err = s.retrier.Deliver(sweepCtx, domain.SystemIdentity, id)
		} else {
			err = s.retrier.Retry(sweepCtx, domain.SystemIdentity, id)
		}

		var deliveryErr *domain.DeliveryError
		switch {
		case err == nil:
			report.Retried++
			if s.delivered(ctx, id) {
				report.Delivered++
				s.metrics.IncRetrySweep("delivered")
			} else {
				report.Deferred++
				s.metrics.IncRetrySweep("deferred")
			}
		case errors.As(err, &deliveryErr):
			report.Retried++
			report.Failed++
			s.metrics.IncRetrySweep("failed")
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIllegalState), errors.Is(err, domain.ErrNotFound):
			report.Skipped++
			s.metrics.IncRetrySweep("skipped")
			s.logger.Info("retry sweep skipped notification",
				zap.String(observability.FieldNotificationID, id),
				zap.String(observability.FieldCorrelationID, correlationID),
				zap.Error(err),
			)
		default:
			report.Skipped++
			s.metrics.IncRetrySweep("error")
			s.logger.Error("retry sweep failed for notification",
				zap.String(observability.FieldNotificationID, id),
				zap.String(observability.FieldCorrelationID, correlationID),
				zap.Error(err),
			)
		}
	}

	if report.Scanned > 0 {
		s.logger.Info("retry sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("retried", report.Retried),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Int("deferred", report.Deferred),
			zap.Int("skipped", report.Skipped),
		)
	}

	return report, nil
}

// delivered reports whether a retry that returned nil actually reached the
// recipient rather than being deferred or pinned as exhausted.
func (s *RetryScheduler) delivered(ctx context.Context, id string) bool {
	n, err := s.notifications.FindByIDForUpdate(ctx, id)
	if err != nil {
		return false
	}
	return n.Status == domain.StatusDelivered
}
