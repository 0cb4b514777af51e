package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

func newPending(recipient string, createdAt time.Time) *domain.Notification {
	return &domain.Notification{
		Recipient: recipient,
		Type:      "ALERT",
		Payload:   "server down",
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
	}
}

func TestMemoryNotificationStoreInsertAssignsIDAndVersion(t *testing.T) {
	t.Parallel()

	store := NewMemoryNotificationStore()
	n := newPending("alice", time.Time{})

	if err := store.Insert(context.Background(), n); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if n.ID == "" || n.Version != 1 || n.CreatedAt.IsZero() {
		t.Fatalf("Insert() did not populate record: %+v", n)
	}

	got, err := store.FindByID(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Recipient != "alice" || got.Payload != "server down" {
		t.Fatalf("FindByID() = %+v", got)
	}

	got.Payload = "mutated"
	again, _ := store.FindByID(context.Background(), n.ID)
	if again.Payload != "server down" {
		t.Fatal("FindByID() returned an alias of the stored record")
	}
}

func TestMemoryNotificationStoreUpdateVersionCheck(t *testing.T) {
	t.Parallel()

	store := NewMemoryNotificationStore()
	ctx := context.Background()
	n := newPending("alice", time.Now())
	if err := store.Insert(ctx, n); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	first := n.Clone()
	second := n.Clone()

	first.Status = domain.StatusDelivered
	if err := store.Update(ctx, first, 1); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("Version = %d, want 2", first.Version)
	}

	second.Status = domain.StatusFailed
	err := store.Update(ctx, second, 1)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale Update() error = %v, want ErrConflict", err)
	}
	if second.Version != 1 {
		t.Fatal("failed Update() must leave the working copy untouched")
	}

	stored, _ := store.FindByID(ctx, n.ID)
	if stored.Status != domain.StatusDelivered {
		t.Fatalf("stored status = %s, want DELIVERED", stored.Status)
	}

	missing := &domain.Notification{ID: "missing"}
	if err := store.Update(ctx, missing, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryNotificationStoreQueries(t *testing.T) {
	t.Parallel()

	store := NewMemoryNotificationStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older := newPending("alice", base)
	newer := newPending("alice", base.Add(time.Hour))
	other := newPending("bob", base.Add(2*time.Hour))
	for _, n := range []*domain.Notification{older, newer, other} {
		if err := store.Insert(ctx, n); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	list, err := store.FindByRecipient(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByRecipient() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("FindByRecipient() order = %+v, want newest first", list)
	}

	due := base.Add(-time.Minute)
	later := base.Add(time.Hour)
	older.Status, older.RetryCount, older.NextRetryAt = domain.StatusFailed, 1, &due
	newer.Status, newer.RetryCount, newer.NextRetryAt = domain.StatusFailed, 1, &later
	other.Status, other.RetryCount = domain.StatusFailed, 3
	for _, n := range []*domain.Notification{older, newer, other} {
		if err := store.Update(ctx, n, n.Version); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	retryable, err := store.FindFailedRetryable(ctx, base, 3, 10)
	if err != nil {
		t.Fatalf("FindFailedRetryable() error = %v", err)
	}
	if len(retryable) != 1 || retryable[0].ID != older.ID {
		t.Fatalf("FindFailedRetryable() = %+v, want only the due record", retryable)
	}

	count, err := store.CountByStatus(ctx, domain.StatusFailed)
	if err != nil || count != 3 {
		t.Fatalf("CountByStatus(FAILED) = %d, %v, want 3", count, err)
	}

	old, err := store.FindOlderThan(ctx, base.Add(90*time.Minute), []domain.Status{domain.StatusFailed})
	if err != nil {
		t.Fatalf("FindOlderThan() error = %v", err)
	}
	if len(old) != 2 {
		t.Fatalf("FindOlderThan() = %d records, want 2", len(old))
	}

	deleted, err := store.DeleteAll(ctx, []string{older.ID, newer.ID, "missing"})
	if err != nil || deleted != 2 {
		t.Fatalf("DeleteAll() = %d, %v, want 2", deleted, err)
	}
	if _, err := store.FindByID(ctx, older.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("FindByID(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryNotificationStoreFindDeferred(t *testing.T) {
	t.Parallel()

	store := NewMemoryNotificationStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	due := base.Add(-time.Second)
	later := base.Add(time.Minute)

	dueNow := newPending("alice", base)
	dueNow.NextRetryAt = &due
	notYet := newPending("alice", base.Add(time.Second))
	notYet.NextRetryAt = &later
	untouched := newPending("bob", base.Add(2*time.Second))
	failed := newPending("bob", base.Add(3*time.Second))
	failed.Status, failed.RetryCount, failed.NextRetryAt = domain.StatusFailed, 1, &due

	for _, n := range []*domain.Notification{dueNow, notYet, untouched, failed} {
		if err := store.Insert(ctx, n); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got, err := store.FindDeferred(ctx, base, 10)
	if err != nil {
		t.Fatalf("FindDeferred() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != dueNow.ID {
		t.Fatalf("FindDeferred() = %+v, want only the due pending record", got)
	}
}

func TestMemoryAttemptStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryAttemptStore()
	ctx := context.Background()

	for _, num := range []int{2, 1} {
		a := &domain.DeliveryAttempt{NotificationID: "n1", AttemptNumber: num, Outcome: domain.OutcomeError}
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if a.ID == "" {
			t.Fatal("Create() should assign an id")
		}
	}

	attempts, err := store.FindByNotificationID(ctx, "n1")
	if err != nil {
		t.Fatalf("FindByNotificationID() error = %v", err)
	}
	if len(attempts) != 2 || attempts[0].AttemptNumber != 1 {
		t.Fatalf("FindByNotificationID() = %+v", attempts)
	}

	if err := store.DeleteByNotificationIDs(ctx, []string{"n1"}); err != nil {
		t.Fatalf("DeleteByNotificationIDs() error = %v", err)
	}
	attempts, _ = store.FindByNotificationID(ctx, "n1")
	if len(attempts) != 0 {
		t.Fatalf("attempts after delete = %d, want 0", len(attempts))
	}
}
