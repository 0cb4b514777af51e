package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 30 * time.Second
)

// ErrOpen is handed to the fallback when a call was not admitted.
var ErrOpen = errors.New("circuit breaker is open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	Name             string
	FailureThreshold int
	OpenDuration     time.Duration
	Now              func() time.Time
	// OnStateChange runs synchronously on the goroutine that won the transition.
	OnStateChange func(name string, from, to State)
}

// Breaker counts consecutive failures of a guarded call and short-circuits it
// while open. All state lives in atomics.
type Breaker struct {
	name          string
	threshold     int64
	openDuration  time.Duration
	now           func() time.Time
	onStateChange func(name string, from, to State)

	state    atomic.Int32
	failures atomic.Int64
	openedAt atomic.Int64
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultOpenDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	b := &Breaker{
		name:          cfg.Name,
		threshold:     int64(cfg.FailureThreshold),
		openDuration:  cfg.OpenDuration,
		now:           cfg.Now,
		onStateChange: cfg.OnStateChange,
	}
	b.state.Store(int32(StateClosed))
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State { return State(b.state.Load()) }

// RetryAt is when an open breaker admits its next trial call. A breaker that
// is not open admits calls now.
func (b *Breaker) RetryAt() time.Time {
	now := b.now()
	if b.State() != StateOpen {
		return now
	}
	reopen := time.Unix(0, b.openedAt.Load()).Add(b.openDuration)
	if reopen.Before(now) {
		return now
	}
	return reopen
}

// Execute runs op if the breaker admits the call. A rejected call or a failed
// op yields fallback(err); errors never propagate to the caller.
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error), fallback func(error) T) T {
	admitted, trial := b.admit()
	if !admitted {
		return fallback(ErrOpen)
	}

	result, err := op(ctx)
	if err != nil {
		b.onFailure(trial)
		return fallback(err)
	}

	b.onSuccess(trial)
	return result
}

// admit reports whether a call may run and whether it is the half-open trial.
func (b *Breaker) admit() (admitted, trial bool) {
	switch State(b.state.Load()) {
	case StateClosed:
		return true, false
	case StateOpen:
		openedAt := time.Unix(0, b.openedAt.Load())
		if b.now().Sub(openedAt) < b.openDuration {
			return false, false
		}
		if b.transition(StateOpen, StateHalfOpen) {
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

func (b *Breaker) onSuccess(trial bool) {
	b.failures.Store(0)
	if trial {
		b.transition(StateHalfOpen, StateClosed)
	}
}

func (b *Breaker) onFailure(trial bool) {
	if trial {
		b.openedAt.Store(b.now().UnixNano())
		b.transition(StateHalfOpen, StateOpen)
		return
	}

	if b.failures.Add(1) < b.threshold {
		return
	}
	b.openedAt.Store(b.now().UnixNano())
	if b.transition(StateClosed, StateOpen) {
		b.failures.Store(0)
	}
}

func (b *Breaker) transition(from, to State) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
	return true
}
