package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRetrying  Status = "RETRYING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusFallback  Status = "FALLBACK"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusDelivered, StatusFailed, StatusFallback:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	// MaxPayloadLength is the payload cap in characters.
	MaxPayloadLength = 1000

	DefaultMaxRetries = 3

	FallbackType    = "FALLBACK"
	FallbackPayload = "service temporarily unavailable"
	// FallbackRecipient is the recipient of synthesized fallback records.
	FallbackRecipient = "system"

	MaxRetriesReachedMessage = "max retry attempts reached"
)

// Notification is the unit of work tracked from creation to terminal delivery or failure.
type Notification struct {
	ID           string
	Recipient    string
	Type         string
	Payload      string
	Status       Status
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	NextRetryAt  *time.Time
	Version      int
	UpdatedAt    time.Time
}

// Normalize trims user supplied fields and upper-cases the type tag.
func (n *Notification) Normalize() {
	n.Recipient = strings.TrimSpace(n.Recipient)
	n.Type = strings.ToUpper(strings.TrimSpace(n.Type))
	n.Payload = strings.TrimSpace(n.Payload)
}

func (n *Notification) Validate() error {
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if n.Type == "" {
		return fmt.Errorf("%w: type is required", ErrValidation)
	}
	if n.Payload == "" {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}

	payloadLen := len([]rune(n.Payload))
	if payloadLen > MaxPayloadLength {
		return fmt.Errorf("%w: payload exceeds %d characters (got %d)", ErrValidation, MaxPayloadLength, payloadLen)
	}

	return nil
}

// PayloadBytes is the payload size reported to metrics.
func (n *Notification) PayloadBytes() int {
	if n == nil {
		return 0
	}
	return len(n.Payload)
}

// IsFallback reports whether n was synthesized instead of read from the store.
func (n *Notification) IsFallback() bool {
	return n != nil && n.Status == StatusFallback
}

// Retryable reports whether the sweep may pick the notification up again.
func (n *Notification) Retryable(maxRetries int) bool {
	return n.Status == StatusFailed && n.RetryCount < maxRetries
}

// Clone returns a deep copy so a working copy never aliases the caller's record.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	c.ErrorMessage = cloneString(n.ErrorMessage)
	c.ProcessedAt = cloneTime(n.ProcessedAt)
	c.NextRetryAt = cloneTime(n.NextRetryAt)
	return &c
}

// NewFallback builds the degraded record returned when the store cannot be read.
func NewFallback(id string, now time.Time) *Notification {
	return &Notification{
		ID:        id,
		Recipient: FallbackRecipient,
		Type:      FallbackType,
		Payload:   FallbackPayload,
		Status:    StatusFallback,
		CreatedAt: now,
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
