package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	AuditCreate         = "CREATE"
	AuditSaveFailed     = "SAVE_FAILED"
	AuditRead           = "READ"
	AuditReadFailed     = "READ_FAILED"
	AuditDelivered      = "DELIVERED"
	AuditDeliveryFailed = "DELIVERY_FAILED"
	AuditDeliveryDefer  = "DELIVERY_DEFERRED"
	AuditRetry          = "RETRY"
	AuditRetryExhausted = "RETRY_EXHAUSTED"
	AuditCleanup        = "CLEANUP"
	AuditRateLimitReset = "RATE_LIMIT_RESET"
)

// AuditEvent describes one state-changing or sensitive action.
type AuditEvent struct {
	Action     string
	TargetType string
	TargetID   string
	Actor      string
	Details    map[string]any
}

// AuditLogger writes one structured line per event to a logger named "audit".
type AuditLogger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

func (a *AuditLogger) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.logger == nil {
		return
	}

	actor := ev.Actor
	if actor == "" {
		actor = "anonymous"
	}

	fields := []zap.Field{
		zap.String("eventId", uuid.NewString()),
		zap.Time("eventTime", a.now().UTC()),
		zap.String("actor", actor),
		zap.String("action", ev.Action),
		zap.String("targetType", ev.TargetType),
		zap.String("targetId", ev.TargetID),
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldCorrelationID, correlationID))
	}

	a.logger.Info("audit event", fields...)
}
