package dispatch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"hrstack.local/projects/tracker-gateway/internal/subscribers"
	"hrstack.local/projects/tracker-gateway/internal/tracker"
)

type fakeSubscriber struct {
	name     string
	failures int

	mu    sync.Mutex
	calls int
	seen  []tracker.Event
	done  chan struct{}
}

func newFakeSubscriber(name string, failures int) *fakeSubscriber {
	return &fakeSubscriber{name: name, failures: failures, done: make(chan struct{})}
}

func (f *fakeSubscriber) Name() string { return f.name }

func (f *fakeSubscriber) Handle(_ context.Context, event tracker.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient failure")
	}
	f.seen = append(f.seen, event)
	if len(f.seen) == 1 {
		close(f.done)
	}
	return nil
}

func (f *fakeSubscriber) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("subscriber %s never delivered", f.name)
	}
}

func TestDispatchFansOutToAllSubscribers(t *testing.T) {
	a := newFakeSubscriber("a", 0)
	b := newFakeSubscriber("b", 0)
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{a, b})

	event := tracker.Event{Type: tracker.EventSessionStarted, SessionID: "sess_1", EmployeeID: "emp_1"}
	d.Dispatch(context.Background(), event)

	a.wait(t)
	b.wait(t)
	for _, sub := range []*fakeSubscriber{a, b} {
		sub.mu.Lock()
		if len(sub.seen) != 1 || sub.seen[0].SessionID != "sess_1" {
			t.Fatalf("subscriber %s: %+v", sub.name, sub.seen)
		}
		sub.mu.Unlock()
	}
}

func TestDispatchRetriesFailures(t *testing.T) {
	sub := newFakeSubscriber("flaky", 2)
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})

	d.Dispatch(context.Background(), tracker.Event{Type: tracker.EventSessionStopped, SessionID: "sess_2"})

	sub.wait(t)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sub.calls)
	}
	if len(sub.seen) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sub.seen))
	}
}

func TestDispatchGivesUpAfterRetryBudget(t *testing.T) {
	sub := newFakeSubscriber("dead", 100)
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})
	d.retryBackoff = time.Millisecond

	d.Dispatch(context.Background(), tracker.Event{Type: tracker.EventSessionStarted, SessionID: "sess_3"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		sub.mu.Lock()
		calls := sub.calls
		sub.mu.Unlock()
		if calls == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 attempts, got %d", calls)
		}
		time.Sleep(time.Millisecond)
	}

	// No further attempts after the budget is spent.
	time.Sleep(20 * time.Millisecond)
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.calls != 3 {
		t.Fatalf("retries exceeded budget: %d", sub.calls)
	}
}

func TestDispatchDeliversInOrderPerSession(t *testing.T) {
	sub := newFakeSubscriber("ordered", 0)
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})

	const n = 20
	for i := 0; i < n; i++ {
		d.Dispatch(context.Background(), tracker.Event{
			Type:      tracker.EventActivityRecorded,
			SessionID: "sess_ordered",
			Payload:   i,
		})
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sub.mu.Lock()
		delivered := len(sub.seen)
		sub.mu.Unlock()
		if delivered == n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d deliveries, got %d", n, delivered)
		}
		time.Sleep(time.Millisecond)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for i, event := range sub.seen {
		if event.Payload.(int) != i {
			t.Fatalf("delivery %d out of order: %v", i, event.Payload)
		}
	}
}

func TestDispatchOutlivesRequestContext(t *testing.T) {
	sub := newFakeSubscriber("detached", 0)
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, tracker.Event{Type: tracker.EventSessionStarted, SessionID: "sess_4"})

	sub.wait(t)
}
