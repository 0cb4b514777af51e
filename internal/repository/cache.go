package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = time.Hour
)

var _ NotificationStore = (*CachedStore)(nil)

// CachedStore puts a read-through LRU in front of FindByID. Concurrent misses
// for the same id share one store read. Entries are copies; callers never see
// the cached pointer.
//
// A read-through fill is dropped when any write landed while the store read
// was in flight, and an entry is never replaced by an older version.
type CachedStore struct {
	NotificationStore

	cache *expirable.LRU[string, *domain.Notification]
	group singleflight.Group

	mu     sync.Mutex
	writes atomic.Uint64
}

func NewCachedStore(next NotificationStore, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		NotificationStore: next,
		cache:             expirable.NewLRU[string, *domain.Notification](size, nil, ttl),
	}
}

func (s *CachedStore) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	if n, ok := s.cache.Get(id); ok {
		return n.Clone(), nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		seen := s.writes.Load()
		n, err := s.NotificationStore.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.fill(n, seen)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Notification).Clone(), nil
}

func (s *CachedStore) Insert(ctx context.Context, n *domain.Notification) error {
	if err := s.NotificationStore.Insert(ctx, n); err != nil {
		return err
	}
	s.put(n)
	return nil
}

func (s *CachedStore) Update(ctx context.Context, n *domain.Notification, expectedVersion int) error {
	if err := s.NotificationStore.Update(ctx, n, expectedVersion); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			s.remove(n.ID)
		}
		return err
	}
	s.put(n)
	return nil
}

func (s *CachedStore) DeleteAll(ctx context.Context, ids []string) (int64, error) {
	deleted, err := s.NotificationStore.DeleteAll(ctx, ids)
	s.remove(ids...)
	return deleted, err
}

func (s *CachedStore) Len() int {
	return s.cache.Len()
}

// put caches a record that was just written.
func (s *CachedStore) put(n *domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes.Add(1)
	if cur, ok := s.cache.Peek(n.ID); ok && cur.Version > n.Version {
		return
	}
	s.cache.Add(n.ID, n.Clone())
}

// fill caches a record read from the store unless a write happened since seen.
func (s *CachedStore) fill(n *domain.Notification, seen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writes.Load() != seen {
		return
	}
	if cur, ok := s.cache.Peek(n.ID); ok && cur.Version >= n.Version {
		return
	}
	s.cache.Add(n.ID, n.Clone())
}

func (s *CachedStore) remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes.Add(1)
	for _, id := range ids {
		s.cache.Remove(id)
	}
}
