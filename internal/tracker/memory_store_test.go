package tracker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreHonorsCancellation(t *testing.T) {
	store := NewMemoryStore()

	// Hold the lock so the next caller has to wait.
	if err := store.mu.lock(context.Background()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer store.mu.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := store.GetSession(ctx, "sess_1")
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected storage failure on canceled lock, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause preserved, got %v", err)
	}
}

func TestMemoryStoreReturnsIsolatedCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	sess := Session{
		ID:             "sess_copy",
		EmployeeID:     "emp_1",
		Title:          "Isolation",
		Status:         StatusRunning,
		StartTime:      now,
		ActivityLevels: []ActivitySample{},
		Screenshots:    []Screenshot{},
	}
	if _, err := store.StartSession(ctx, sess); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := store.AppendActivity(ctx, sess.ID, ActivitySample{Keystrokes: 1}, now); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Mutating the returned value must not leak into the store.
	got.ActivityLevels[0].Keystrokes = 999
	got.Title = "tampered"

	again, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.ActivityLevels[0].Keystrokes != 1 || again.Title != "Isolation" {
		t.Fatalf("stored state leaked: %+v", again)
	}
}
