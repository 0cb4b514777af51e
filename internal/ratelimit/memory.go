package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxClients caps how many client windows one process tracks.
const DefaultMaxClients = 10000

var _ RateLimiter = (*MemoryLimiter)(nil)

type window struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

// MemoryLimiter is an in-process fixed-window limiter. Windows live in a
// bounded LRU whose TTL is the window length, so idle clients are dropped
// and the least recently seen client is evicted when the cap is reached.
// Counting happens under each window's own mutex.
type MemoryLimiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
}

func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return newMemoryLimiter(limit, period, DefaultMaxClients, time.Now)
}

func newMemoryLimiter(limit int, period time.Duration, maxClients int, nowFn func() time.Time) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultWindow
	}
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		now:     nowFn,
		windows: expirable.NewLRU[string, *window](maxClients, nil, period),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, clientID string) (Decision, error) {
	key := NormalizeClientID(clientID)
	w := l.window(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	if w.count == 0 || !now.Before(w.expiresAt) {
		w.count = 0
		w.expiresAt = now.Add(l.period)
		l.touch(key, w)
	}
	w.count++

	return NewDecision(w.count, l.limit, w.expiresAt.Sub(now)), nil
}

// Reset forgets the client's window.
func (l *MemoryLimiter) Reset(_ context.Context, clientID string) error {
	l.mu.Lock()
	l.windows.Remove(NormalizeClientID(clientID))
	l.mu.Unlock()
	return nil
}

// Clients reports how many windows are currently tracked.
func (l *MemoryLimiter) Clients() int {
	return l.windows.Len()
}

func (l *MemoryLimiter) window(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows.Get(key); ok {
		return w
	}
	w := &window{}
	l.windows.Add(key, w)
	return w
}

// touch re-adds w so its TTL restarts with the new window, unless another
// window already replaced it.
func (l *MemoryLimiter) touch(key string, w *window) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.windows.Peek(key); ok && cur != w {
		return
	}
	l.windows.Add(key, w)
}
