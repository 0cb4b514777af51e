package ratelimit

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute

	anonymousClient = "anonymous"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time until the client's current window expires.
	RetryAfter time.Duration
}

// RateLimiter admits or rejects requests per client within a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (Decision, error)
	Reset(ctx context.Context, clientID string) error
}

// NormalizeClientID maps empty identifiers onto a shared anonymous bucket.
func NormalizeClientID(clientID string) string {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return anonymousClient
	}
	return clientID
}

// NewDecision derives a Decision from a post-increment counter value.
func NewDecision(count, limit int, retryAfter time.Duration) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}
