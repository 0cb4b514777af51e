package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/domain"
)

var (
	_ NotificationStore = (*MemoryNotificationStore)(nil)
	_ AttemptStore      = (*MemoryAttemptStore)(nil)
)

// MemoryNotificationStore keeps records in a map. Every read and write copies
// the record so callers never share memory with the store.
type MemoryNotificationStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Notification
	now     func() time.Time
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		records: make(map[string]*domain.Notification),
		now:     time.Now,
	}
}

func (s *MemoryNotificationStore) Insert(_ context.Context, n *domain.Notification) error {
	stored := n.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Version = 1

	s.mu.Lock()
	if _, exists := s.records[stored.ID]; exists {
		s.mu.Unlock()
		return domain.ErrConflict
	}
	s.records[stored.ID] = stored
	s.mu.Unlock()

	*n = *stored.Clone()
	return nil
}

func (s *MemoryNotificationStore) Update(_ context.Context, n *domain.Notification, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConflict
	}

	stored := n.Clone()
	stored.CreatedAt = current.CreatedAt
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = s.now().UTC()
	s.records[n.ID] = stored

	n.Version = stored.Version
	n.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryNotificationStore) FindByID(_ context.Context, id string) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryNotificationStore) FindByIDForUpdate(ctx context.Context, id string) (*domain.Notification, error) {
	return s.FindByID(ctx, id)
}

func (s *MemoryNotificationStore) FindByRecipient(_ context.Context, recipient string) ([]domain.Notification, error) {
	out := s.filter(func(n *domain.Notification) bool { return n.Recipient == recipient })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryNotificationStore) FindFailedRetryable(_ context.Context, now time.Time, maxRetries, limit int) ([]domain.Notification, error) {
	out := s.filter(func(n *domain.Notification) bool {
		if !n.Retryable(maxRetries) {
			return false
		}
		return n.NextRetryAt == nil || !n.NextRetryAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryNotificationStore) FindDeferred(_ context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	out := s.filter(func(n *domain.Notification) bool {
		return n.Status == domain.StatusPending && n.NextRetryAt != nil && !n.NextRetryAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryNotificationStore) FindOlderThan(_ context.Context, cutoff time.Time, statuses []domain.Status) ([]domain.Notification, error) {
	return s.filter(func(n *domain.Notification) bool {
		if !n.CreatedAt.Before(cutoff) {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if n.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryNotificationStore) DeleteAll(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryNotificationStore) CountByStatus(_ context.Context, status domain.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.records {
		if n.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *MemoryNotificationStore) filter(keep func(*domain.Notification) bool) []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Notification, 0)
	for _, n := range s.records {
		if keep(n) {
			out = append(out, *n.Clone())
		}
	}
	return out
}

type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[string][]domain.DeliveryAttempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string][]domain.DeliveryAttempt)}
}

func (s *MemoryAttemptStore) Create(_ context.Context, a *domain.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	stored := *a
	if a.Error != nil {
		msg := *a.Error
		stored.Error = &msg
	}

	s.mu.Lock()
	s.attempts[a.NotificationID] = append(s.attempts[a.NotificationID], stored)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAttemptStore) FindByNotificationID(_ context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeliveryAttempt, len(s.attempts[notificationID]))
	copy(out, s.attempts[notificationID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (s *MemoryAttemptStore) DeleteByNotificationIDs(_ context.Context, notificationIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range notificationIDs {
		delete(s.attempts, id)
	}
	return nil
}
