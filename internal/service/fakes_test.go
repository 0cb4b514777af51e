package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/push"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/repository"
)

var (
	alice = domain.Identity{Subject: "alice"}
	bob   = domain.Identity{Subject: "bob"}
	admin = domain.Identity{Subject: "ops", Roles: []string{domain.RoleAdmin}}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeChannel struct {
	calls     atomic.Int32
	deliverFn func(ctx context.Context, recipient string, msg push.Message) (push.Result, error)
}

func (f *fakeChannel) DeliverTo(ctx context.Context, recipient string, msg push.Message) (push.Result, error) {
	f.calls.Add(1)
	if f.deliverFn != nil {
		return f.deliverFn(ctx, recipient, msg)
	}
	return push.Delivered, nil
}

func notConnectedChannel() *fakeChannel {
	return &fakeChannel{
		deliverFn: func(context.Context, string, push.Message) (push.Result, error) {
			return push.NotConnected, nil
		},
	}
}

type fakeAudit struct {
	mu     sync.Mutex
	events []observability.AuditEvent
}

func (f *fakeAudit) Record(_ context.Context, ev observability.AuditEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Action)
	}
	return out
}

func (f *fakeAudit) last() observability.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return observability.AuditEvent{}
	}
	return f.events[len(f.events)-1]
}

type fakeMetrics struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeMetrics) Observe(_ string, status string, _ time.Duration, _ int) {
	f.mu.Lock()
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
}

type panickingSinks struct{}

func (panickingSinks) Record(context.Context, observability.AuditEvent) { panic("audit down") }

func (panickingSinks) Observe(string, string, time.Duration, int) { panic("metrics down") }

// faultyStore injects errors in front of the in-memory store.
type faultyStore struct {
	*repository.MemoryNotificationStore

	insertErr error
	findErr   error
	updateErr error
	finds     atomic.Int32
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryNotificationStore: repository.NewMemoryNotificationStore()}
}

func (s *faultyStore) Insert(ctx context.Context, n *domain.Notification) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.MemoryNotificationStore.Insert(ctx, n)
}

func (s *faultyStore) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	s.finds.Add(1)
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryNotificationStore.FindByID(ctx, id)
}

func (s *faultyStore) Update(ctx context.Context, n *domain.Notification, expectedVersion int) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryNotificationStore.Update(ctx, n, expectedVersion)
}

type fakeDeliverer struct {
	deliverFn func(ctx context.Context, identity domain.Identity, id string) error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, identity domain.Identity, id string) error {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, identity, id)
	}
	return nil
}

type fakeRetrier struct {
	mu        sync.Mutex
	calls     []string
	delivers  []string
	retryFn   func(ctx context.Context, identity domain.Identity, id string) error
	deliverFn func(ctx context.Context, identity domain.Identity, id string) error
}

func (f *fakeRetrier) Deliver(ctx context.Context, identity domain.Identity, id string) error {
	f.mu.Lock()
	f.delivers = append(f.delivers, id)
	f.mu.Unlock()
	if f.deliverFn != nil {
		return f.deliverFn(ctx, identity, id)
	}
	return nil
}

func (f *fakeRetrier) Retry(ctx context.Context, identity domain.Identity, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if f.retryFn != nil {
		return f.retryFn(ctx, identity, id)
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.DeliveryMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DeliveryMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeDispatcher struct {
	calls atomic.Int32
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	f.calls.Add(1)
	return n, nil
}

type engineFixture struct {
	engine   *DeliveryEngine
	store    repository.NotificationStore
	attempts *repository.MemoryAttemptStore
	channel  *fakeChannel
	audit    *fakeAudit
	metrics  *fakeMetrics
	clock    *testClock
}

func newEngineFixture(t *testing.T, store repository.NotificationStore, channel *fakeChannel, cfg EngineConfig) *engineFixture {
	t.Helper()

	if store == nil {
		store = repository.NewMemoryNotificationStore()
	}
	if channel == nil {
		channel = &fakeChannel{}
	}
	attempts := repository.NewMemoryAttemptStore()

	engine, err := NewDeliveryEngine(store, attempts, channel, cfg, nil)
	if err != nil {
		t.Fatalf("NewDeliveryEngine() error = %v", err)
	}

	clock := newTestClock()
	engine.now = clock.Now

	audit := &fakeAudit{}
	metrics := &fakeMetrics{}
	engine.SetAudit(audit)
	engine.SetMetrics(metrics)

	return &engineFixture{
		engine:   engine,
		store:    store,
		attempts: attempts,
		channel:  channel,
		audit:    audit,
		metrics:  metrics,
		clock:    clock,
	}
}

func (f *engineFixture) create(t *testing.T, identity domain.Identity, recipient string) *domain.Notification {
	t.Helper()

	created, err := f.engine.Create(context.Background(), identity, &domain.Notification{
		Recipient: recipient,
		Type:      "alert",
		Payload:   "server down",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return created
}

func (f *engineFixture) stored(t *testing.T, id string) *domain.Notification {
	t.Helper()

	n, err := f.store.FindByIDForUpdate(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByIDForUpdate(%s) error = %v", id, err)
	}
	return n
}
