package domain

import "time"

// AttemptOutcome classifies a single push attempt.
type AttemptOutcome string

const (
	OutcomeDelivered      AttemptOutcome = "DELIVERED"
	OutcomeNotConnected   AttemptOutcome = "NOT_CONNECTED"
	OutcomeError          AttemptOutcome = "ERROR"
	OutcomeShortCircuited AttemptOutcome = "SHORT_CIRCUITED"
)

func (o AttemptOutcome) String() string { return string(o) }

// DeliveryAttempt records a single delivery attempt for a notification.
type DeliveryAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Outcome        AttemptOutcome
	Error          *string
	LatencyMs      int64
	CreatedAt      time.Time
}
