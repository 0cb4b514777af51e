package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultCleanupSchedule = "0 3 * * *"
	defaultRetention       = 30 * 24 * time.Hour
)

var cleanupStatuses = []domain.Status{domain.StatusDelivered, domain.StatusFailed}

// CleanupTask removes DELIVERED and FAILED notifications older than the
// retention period on a cron schedule.
type CleanupTask struct {
	notifications repository.NotificationStore
	attempts      repository.AttemptStore
	retention     time.Duration
	schedule      string
	logger        *zap.Logger

	audit   AuditSink
	metrics *observability.Metrics
	now     func() time.Time
}

func NewCleanupTask(
	notifications repository.NotificationStore,
	attempts repository.AttemptStore,
	retention time.Duration,
	schedule string,
	logger *zap.Logger,
) (*CleanupTask, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CleanupTask{
		notifications: notifications,
		attempts:      attempts,
		retention:     retention,
		schedule:      schedule,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (t *CleanupTask) SetAudit(audit AuditSink) {
	if t == nil {
		return
	}
	t.audit = audit
}

func (t *CleanupTask) SetMetrics(metrics *observability.Metrics) {
	if t == nil {
		return
	}
	t.metrics = metrics
}

// Start runs Sweep on the schedule until ctx is done, then waits for a
// running sweep to finish.
func (t *CleanupTask) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New()
	if _, err := c.AddFunc(t.schedule, func() {
		if _, err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("cleanup sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	c.Start()
	t.logger.Info("cleanup task scheduled", zap.String("schedule", t.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep deletes expired terminal notifications and returns how many were removed.
func (t *CleanupTask) Sweep(ctx context.Context) (int64, error) {
	cutoff := t.now().UTC().Add(-t.retention)

	expired, err := t.notifications.FindOlderThan(ctx, cutoff, cleanupStatuses)
	if err != nil {
		return 0, domain.NewStoreError("find expired", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for i := range expired {
		ids = append(ids, expired[i].ID)
	}

	if t.attempts != nil {
		if err := t.attempts.DeleteByNotificationIDs(ctx, ids); err != nil {
			t.logger.Warn("failed to delete attempt log of expired notifications",
				zap.Int("count", len(ids)),
				zap.Error(err),
			)
		}
	}

	deleted, err := t.notifications.DeleteAll(ctx, ids)
	if err != nil {
		return deleted, domain.NewStoreError("delete expired", err)
	}

	t.metrics.AddCleanupDeleted(deleted)
	if t.audit != nil {
		t.audit.Record(ctx, observability.AuditEvent{
			Action:     observability.AuditCleanup,
			TargetType: targetNotification,
			Actor:      domain.SystemIdentity.Subject,
			Details: map[string]any{
				"deleted": deleted,
				"cutoff":  cutoff.Format(time.RFC3339),
			},
		})
	}
	t.logger.Info("cleanup sweep finished",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)

	return deleted, nil
}
