package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/breaker"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/push"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPushTimeout       = 5 * time.Second
	defaultBackoffBase       = time.Second
	defaultBackoffMultiplier = 2.0
	defaultBackoffMax        = time.Hour

	PushBreakerName      = "push"
	StoreReadBreakerName = "store-read"

	notConnectedMessage = "recipient not connected"
	circuitOpenMessage  = "delivery circuit open, will retry later"

	targetNotification = "notification"
)

// AuditSink receives one event per state change or sensitive read.
type AuditSink interface {
	Record(ctx context.Context, ev observability.AuditEvent)
}

// MetricsSink receives one observation per lifecycle event.
type MetricsSink interface {
	Observe(notificationType string, status string, latency time.Duration, payloadBytes int)
}

type EngineConfig struct {
	MaxRetries          int
	PushTimeout         time.Duration
	BackoffBase         time.Duration
	BackoffMultiplier   float64
	BackoffMax          time.Duration
	AllowCrossRecipient bool

	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration
	OnBreakerStateChange    func(name string, from, to breaker.State)
}

// DeliveryEngine owns every notification state change: creation, push
// attempts, retries and reads guarded by circuit breakers.
type DeliveryEngine struct {
	store    repository.NotificationStore
	attempts repository.AttemptStore
	channel  push.Channel
	cfg      EngineConfig
	logger   *zap.Logger

	pushBreaker *breaker.Breaker
	readBreaker *breaker.Breaker
	locks       *keyedMutex

	audit   AuditSink
	metrics MetricsSink
	now     func() time.Time
}

func NewDeliveryEngine(
	store repository.NotificationStore,
	attempts repository.AttemptStore,
	channel push.Channel,
	cfg EngineConfig,
	logger *zap.Logger,
) (*DeliveryEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("push channel is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = defaultBackoffMultiplier
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &DeliveryEngine{
		store:    store,
		attempts: attempts,
		channel:  channel,
		cfg:      cfg,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
	e.pushBreaker = breaker.New(breaker.Config{
		Name:             PushBreakerName,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenDuration:     cfg.BreakerOpenDuration,
		OnStateChange:    cfg.OnBreakerStateChange,
	})
	e.readBreaker = breaker.New(breaker.Config{
		Name:             StoreReadBreakerName,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenDuration:     cfg.BreakerOpenDuration,
		OnStateChange:    cfg.OnBreakerStateChange,
	})

	return e, nil
}

func (e *DeliveryEngine) SetAudit(audit AuditSink) {
	if e == nil {
		return
	}
	e.audit = audit
}

func (e *DeliveryEngine) SetMetrics(metrics MetricsSink) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

func (e *DeliveryEngine) MaxRetries() int { return e.cfg.MaxRetries }

// Create validates and persists a new PENDING notification.
func (e *DeliveryEngine) Create(ctx context.Context, identity domain.Identity, n *domain.Notification) (*domain.Notification, error) {
	if identity.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	if n == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	record := n.Clone()
	record.Normalize()
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if !e.cfg.AllowCrossRecipient && !identity.CanAccess(record.Recipient) {
		return nil, fmt.Errorf("%w: %s may not notify %s", domain.ErrForbidden, identity.Subject, record.Recipient)
	}

	start := e.now()
	record.ID = ""
	record.Status = domain.StatusPending
	record.RetryCount = 0
	record.ErrorMessage = nil
	record.ProcessedAt = nil
	record.NextRetryAt = nil
	record.CreatedAt = start.UTC()

	if err := e.store.Insert(ctx, record); err != nil {
		e.recordAudit(ctx, observability.AuditEvent{
			Action:     observability.AuditSaveFailed,
			TargetType: targetNotification,
			Actor:      identity.Subject,
			Details: map[string]any{
				"recipient": record.Recipient,
				"type":      record.Type,
				"error":     err.Error(),
			},
		})
		e.observe(record.Type, "save_failed", e.now().Sub(start), record.PayloadBytes())
		return nil, domain.NewStoreError("insert", err)
	}

	e.recordAudit(ctx, observability.AuditEvent{
		Action:     observability.AuditCreate,
		TargetType: targetNotification,
		TargetID:   record.ID,
		Actor:      identity.Subject,
		Details: map[string]any{
			"recipient": record.Recipient,
			"type":      record.Type,
		},
	})
	e.observe(record.Type, record.Status.String(), e.now().Sub(start), record.PayloadBytes())

	return record, nil
}

type readResult struct {
	notification *domain.Notification
	notFound     bool
	degraded     error
}

// Get reads a notification through the store-read breaker. A missing record
// is reported as domain.ErrNotFound; any other read failure, including an
// open breaker, yields a synthesized FALLBACK record.
func (e *DeliveryEngine) Get(ctx context.Context, identity domain.Identity, id string) (*domain.Notification, error) {
	if identity.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	start := e.now()
	res := breaker.Execute(ctx, e.readBreaker,
		func(ctx context.Context) (readResult, error) {
			n, err := e.store.FindByID(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return readResult{notFound: true}, nil
			}
			if err != nil {
				return readResult{}, err
			}
			return readResult{notification: n}, nil
		},
		func(err error) readResult {
			return readResult{degraded: err}
		},
	)

	switch {
	case res.notFound:
		e.recordAudit(ctx, observability.AuditEvent{
			Action:     observability.AuditReadFailed,
			TargetType: targetNotification,
			TargetID:   id,
			Actor:      identity.Subject,
			Details:    map[string]any{"reason": "not found"},
		})
		return nil, fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)

	case res.degraded != nil:
		observability.WithContextLogger(e.logger, ctx).Warn("notification read degraded to fallback",
			zap.String(observability.FieldNotificationID, id),
			zap.Error(res.degraded),
		)
		e.recordAudit(ctx, observability.AuditEvent{
			Action:     observability.AuditReadFailed,
			TargetType: targetNotification,
			TargetID:   id,
			Actor:      identity.Subject,
			Details:    map[string]any{"reason": res.degraded.Error(), "fallback": true},
		})
		fallback := domain.NewFallback(id, e.now().UTC())
		e.observe(fallback.Type, fallback.Status.String(), e.now().Sub(start), 0)
		return fallback, nil
	}

	n := res.notification
	if !identity.CanAccess(n.Recipient) {
		return nil, fmt.Errorf("%w: %s may not read notification %s", domain.ErrForbidden, identity.Subject, id)
	}

	e.recordAudit(ctx, observability.AuditEvent{
		Action:     observability.AuditRead,
		TargetType: targetNotification,
		TargetID:   id,
		Actor:      identity.Subject,
	})
	return n, nil
}

// Deliver pushes a PENDING or RETRYING notification. The resulting state is
// written before a *domain.DeliveryError is returned for a failed push. A push
// refused by the open breaker is deferred and returns nil.
func (e *DeliveryEngine) Deliver(ctx context.Context, identity domain.Identity, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	n, err := e.loadForWrite(ctx, identity, id)
	if err != nil {
		return err
	}
	if !n.Deliverable() {
		return fmt.Errorf("%w: notification %s is %s", domain.ErrIllegalState, n.ID, n.Status)
	}

	return e.attempt(ctx, identity, n)
}

// Retry re-attempts a FAILED (or stuck RETRYING) notification. A record that
// already used every retry is pinned in terminal FAILED and nil is returned.
func (e *DeliveryEngine) Retry(ctx context.Context, identity domain.Identity, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	n, err := e.loadForWrite(ctx, identity, id)
	if err != nil {
		return err
	}
	if n.Status != domain.StatusFailed && n.Status != domain.StatusRetrying {
		return fmt.Errorf("%w: notification %s is %s", domain.ErrIllegalState, n.ID, n.Status)
	}

	start := e.now()
	working := n.Clone()

	if working.RetryCount >= e.cfg.MaxRetries {
		if !working.Exhausted() {
			if err := working.MarkExhausted(start.UTC()); err != nil {
				return err
			}
			if err := e.store.Update(ctx, working, n.Version); err != nil {
				return domain.NewStoreError("update", err)
			}
		}
		e.recordAudit(ctx, observability.AuditEvent{
			Action:     observability.AuditRetryExhausted,
			TargetType: targetNotification,
			TargetID:   working.ID,
			Actor:      identity.Subject,
			Details:    map[string]any{"retryCount": working.RetryCount},
		})
		e.observe(working.Type, "exhausted", e.now().Sub(start), working.PayloadBytes())
		return nil
	}

	if err := working.MarkRetrying(e.cfg.MaxRetries); err != nil {
		return err
	}
	if err := e.store.Update(ctx, working, n.Version); err != nil {
		return domain.NewStoreError("update", err)
	}
	e.recordAudit(ctx, observability.AuditEvent{
		Action:     observability.AuditRetry,
		TargetType: targetNotification,
		TargetID:   working.ID,
		Actor:      identity.Subject,
		Details:    map[string]any{"retryCount": working.RetryCount},
	})
	e.observe(working.Type, working.Status.String(), e.now().Sub(start), working.PayloadBytes())

	return e.attempt(ctx, identity, working)
}

// ListByRecipient returns the recipient's notifications, newest first.
func (e *DeliveryEngine) ListByRecipient(ctx context.Context, identity domain.Identity, recipient string) ([]domain.Notification, error) {
	if identity.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if !identity.CanAccess(recipient) {
		return nil, fmt.Errorf("%w: %s may not list notifications of %s", domain.ErrForbidden, identity.Subject, recipient)
	}

	notifications, err := e.store.FindByRecipient(ctx, recipient)
	if err != nil {
		return nil, domain.NewStoreError("find by recipient", err)
	}
	return notifications, nil
}

// Attempts returns the push attempt log of one notification.
func (e *DeliveryEngine) Attempts(ctx context.Context, identity domain.Identity, id string) ([]domain.DeliveryAttempt, error) {
	if identity.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	n, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, domain.NewStoreError("find", err)
	}
	if !identity.CanAccess(n.Recipient) {
		return nil, fmt.Errorf("%w: %s may not read notification %s", domain.ErrForbidden, identity.Subject, id)
	}
	if e.attempts == nil {
		return []domain.DeliveryAttempt{}, nil
	}

	attempts, err := e.attempts.FindByNotificationID(ctx, id)
	if err != nil {
		return nil, domain.NewStoreError("find attempts", err)
	}
	return attempts, nil
}

func (e *DeliveryEngine) loadForWrite(ctx context.Context, identity domain.Identity, id string) (*domain.Notification, error) {
	if identity.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	n, err := e.store.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)
		}
		return nil, domain.NewStoreError("find", err)
	}
	if !identity.CanAccess(n.Recipient) {
		return nil, fmt.Errorf("%w: %s may not act on notification %s", domain.ErrForbidden, identity.Subject, id)
	}
	return n, nil
}

type pushOutcome struct {
	result push.Result
	err    error
}

// attempt runs one guarded push for n and writes the outcome back. The caller
// holds the per-record lock.
func (e *DeliveryEngine) attempt(ctx context.Context, identity domain.Identity, n *domain.Notification) error {
	msg := push.Message{
		ID:        n.ID,
		Type:      n.Type,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt,
	}

	start := e.now()
	out := breaker.Execute(ctx, e.pushBreaker,
		func(ctx context.Context) (pushOutcome, error) {
			pushCtx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
			defer cancel()

			result, err := e.channel.DeliverTo(pushCtx, n.Recipient, msg)
			if err != nil {
				return pushOutcome{}, err
			}
			return pushOutcome{result: result}, nil
		},
		func(err error) pushOutcome {
			return pushOutcome{err: err}
		},
	)
	now := e.now()
	latency := now.Sub(start)
	// RETRYING already charged its retry, so RetryCount+1 numbers both cases.
	attemptNumber := n.RetryCount + 1
	if n.Status == domain.StatusPending {
		attemptNumber = 1
	}

	working := n.Clone()
	var (
		outcome domain.AttemptOutcome
		cause   error
	)
	switch {
	case out.err == nil && out.result == push.Delivered:
		outcome = domain.OutcomeDelivered
		if err := working.MarkDelivered(now.UTC()); err != nil {
			return err
		}
	case out.err == nil:
		outcome = domain.OutcomeNotConnected
		cause = errors.New(notConnectedMessage)
	case errors.Is(out.err, breaker.ErrOpen):
		return e.deferAttempt(ctx, identity, n, attemptNumber, latency)
	default:
		outcome = domain.OutcomeError
		cause = out.err
	}

	if cause != nil {
		charged := working.RetryCount
		if working.Status == domain.StatusPending {
			charged++
		}
		next := now.Add(e.backoff(charged)).UTC()
		if err := working.MarkFailed(cause.Error(), now.UTC(), e.cfg.MaxRetries, next); err != nil {
			return err
		}
	}

	if err := e.store.Update(ctx, working, n.Version); err != nil {
		observability.NotificationLogger(e.logger, ctx, n).Error("failed to persist delivery outcome",
			zap.String("outcome", outcome.String()),
			zap.Error(err),
		)
		return domain.NewStoreError("update", err)
	}

	e.recordAttempt(ctx, working.ID, attemptNumber, outcome, cause, latency)

	if cause == nil {
		e.recordAudit(ctx, observability.AuditEvent{
			Action:     observability.AuditDelivered,
			TargetType: targetNotification,
			TargetID:   working.ID,
			Actor:      identity.Subject,
			Details:    map[string]any{"attempt": attemptNumber},
		})
		e.observe(working.Type, working.Status.String(), latency, working.PayloadBytes())
		return nil
	}

	details := map[string]any{
		"attempt":    attemptNumber,
		"outcome":    outcome.String(),
		"retryCount": working.RetryCount,
		"error":      cause.Error(),
	}
	if working.NextRetryAt != nil {
		details["nextRetryAt"] = working.NextRetryAt.Format(time.RFC3339)
	}
	e.recordAudit(ctx, observability.AuditEvent{
		Action:     observability.AuditDeliveryFailed,
		TargetType: targetNotification,
		TargetID:   working.ID,
		Actor:      identity.Subject,
		Details:    details,
	})
	e.observe(working.Type, working.Status.String(), latency, working.PayloadBytes())

	observability.NotificationLogger(e.logger, ctx, working).Warn("notification delivery failed",
		zap.String("outcome", outcome.String()),
		zap.Error(cause),
	)

	return &domain.DeliveryError{NotificationID: working.ID, Cause: cause}
}

// deferAttempt handles a push the open breaker never let through. Nothing was
// sent, so no retry is charged and the record waits for the breaker's next
// trial window. The short-circuit is not reported to the caller.
func (e *DeliveryEngine) deferAttempt(
	ctx context.Context,
	identity domain.Identity,
	n *domain.Notification,
	attemptNumber int,
	latency time.Duration,
) error {
	working := n.Clone()
	until := e.pushBreaker.RetryAt().UTC()
	if err := working.MarkDeferred(circuitOpenMessage, until); err != nil {
		return err
	}
	if err := e.store.Update(ctx, working, n.Version); err != nil {
		observability.NotificationLogger(e.logger, ctx, n).Error("failed to persist deferred delivery", zap.Error(err))
		return domain.NewStoreError("update", err)
	}

	e.recordAttempt(ctx, working.ID, attemptNumber, domain.OutcomeShortCircuited, errors.New(circuitOpenMessage), latency)
	e.recordAudit(ctx, observability.AuditEvent{
		Action:     observability.AuditDeliveryDefer,
		TargetType: targetNotification,
		TargetID:   working.ID,
		Actor:      identity.Subject,
		Details: map[string]any{
			"attempt":     attemptNumber,
			"retryCount":  working.RetryCount,
			"nextRetryAt": until.Format(time.RFC3339),
		},
	})
	e.observe(working.Type, "deferred", latency, working.PayloadBytes())

	observability.NotificationLogger(e.logger, ctx, working).Info("notification delivery deferred, push circuit open",
		zap.Time("nextRetryAt", until),
	)
	return nil
}

// backoff returns base * multiplier^(retryCount-1), capped at the configured maximum.
func (e *DeliveryEngine) backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := float64(e.cfg.BackoffBase) * math.Pow(e.cfg.BackoffMultiplier, float64(retryCount-1))
	if delay >= float64(e.cfg.BackoffMax) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return e.cfg.BackoffMax
	}
	return time.Duration(delay)
}

func (e *DeliveryEngine) recordAttempt(
	ctx context.Context,
	notificationID string,
	attemptNumber int,
	outcome domain.AttemptOutcome,
	cause error,
	latency time.Duration,
) {
	if e.attempts == nil {
		return
	}

	var attemptErr *string
	if cause != nil {
		value := cause.Error()
		attemptErr = &value
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		AttemptNumber:  attemptNumber,
		Outcome:        outcome,
		Error:          attemptErr,
		LatencyMs:      latency.Milliseconds(),
		CreatedAt:      e.now().UTC(),
	}
	if err := e.attempts.Create(ctx, attempt); err != nil {
		observability.WithContextLogger(e.logger, ctx).Warn("failed to record delivery attempt",
			zap.String(observability.FieldNotificationID, notificationID),
			zap.Int("attempt", attemptNumber),
			zap.Error(err),
		)
	}
}

func (e *DeliveryEngine) recordAudit(ctx context.Context, ev observability.AuditEvent) {
	if e.audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit sink panicked", zap.String("action", ev.Action), zap.Any("panic", r))
		}
	}()
	e.audit.Record(ctx, ev)
}

func (e *DeliveryEngine) observe(notificationType string, status string, latency time.Duration, payloadBytes int) {
	if e.metrics == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("metrics sink panicked", zap.String("status", status), zap.Any("panic", r))
		}
	}()
	e.metrics.Observe(notificationType, status, latency, payloadBytes)
}
