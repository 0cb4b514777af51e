package domain

import (
	"fmt"
	"time"
)

// transitions lists the legal status edges. FALLBACK never appears: it is
// only ever synthesized for reads.
var transitions = map[Status][]Status{
	StatusPending:  {StatusDelivered, StatusFailed},
	StatusFailed:   {StatusRetrying, StatusFailed},
	StatusRetrying: {StatusRetrying, StatusDelivered, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (n *Notification) transition(to Status) error {
	if !CanTransition(n.Status, to) {
		return fmt.Errorf("%w: cannot move notification %s from %s to %s", ErrIllegalState, n.ID, n.Status, to)
	}
	n.Status = to
	return nil
}

// Deliverable reports whether a push may be attempted from the current status.
func (n *Notification) Deliverable() bool {
	return n.Status == StatusPending || n.Status == StatusRetrying
}

// MarkDelivered records a successful push.
func (n *Notification) MarkDelivered(now time.Time) error {
	if err := n.transition(StatusDelivered); err != nil {
		return err
	}
	n.ErrorMessage = nil
	n.NextRetryAt = nil
	n.ProcessedAt = &now
	return nil
}

// MarkFailed records a failed push. An attempt that started from RETRYING was
// already charged by MarkRetrying, so only first attempts increment the count.
// Once the count reaches maxRetries the failure is terminal.
func (n *Notification) MarkFailed(reason string, now time.Time, maxRetries int, nextRetryAt time.Time) error {
	charge := n.Status == StatusPending
	if err := n.transition(StatusFailed); err != nil {
		return err
	}
	if charge && n.RetryCount < maxRetries {
		n.RetryCount++
	}
	n.ErrorMessage = &reason

	if n.RetryCount >= maxRetries {
		n.NextRetryAt = nil
		n.ProcessedAt = &now
		return nil
	}
	n.NextRetryAt = &nextRetryAt
	return nil
}

// MarkRetrying charges a retry attempt up front and moves the record to RETRYING.
func (n *Notification) MarkRetrying(maxRetries int) error {
	if n.RetryCount >= maxRetries {
		return fmt.Errorf("%w: notification %s exhausted %d retries", ErrIllegalState, n.ID, maxRetries)
	}
	if err := n.transition(StatusRetrying); err != nil {
		return err
	}
	n.RetryCount++
	n.NextRetryAt = nil
	return nil
}

// MarkDeferred records a push that was never attempted. No retry is charged:
// a PENDING record stays PENDING, and a RETRYING record returns to FAILED with
// its up-front charge refunded. until is when the next attempt becomes due.
func (n *Notification) MarkDeferred(reason string, until time.Time) error {
	switch n.Status {
	case StatusPending:
	case StatusRetrying:
		if err := n.transition(StatusFailed); err != nil {
			return err
		}
		if n.RetryCount > 0 {
			n.RetryCount--
		}
	default:
		return fmt.Errorf("%w: cannot defer notification %s in %s", ErrIllegalState, n.ID, n.Status)
	}
	n.ErrorMessage = &reason
	n.NextRetryAt = &until
	return nil
}

// MarkExhausted pins a record that reached maxRetries in terminal FAILED. The
// first terminal ProcessedAt is kept.
func (n *Notification) MarkExhausted(now time.Time) error {
	if err := n.transition(StatusFailed); err != nil {
		return err
	}
	msg := MaxRetriesReachedMessage
	n.ErrorMessage = &msg
	n.NextRetryAt = nil
	if n.ProcessedAt == nil {
		n.ProcessedAt = &now
	}
	return nil
}

// Exhausted reports whether the record is already pinned by MarkExhausted, so
// repeating it would not change anything.
func (n *Notification) Exhausted() bool {
	return n.Status == StatusFailed &&
		n.ProcessedAt != nil &&
		n.NextRetryAt == nil &&
		n.ErrorMessage != nil && *n.ErrorMessage == MaxRetriesReachedMessage
}
