package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"hrstack.local/projects/tracker-gateway/internal/subscribers"
	"hrstack.local/projects/tracker-gateway/internal/tracker"
)

const defaultQueueSize = 256

// Dispatcher fans tracker events out to subscribers. Delivery is
// asynchronous and retried a few times; a subscriber that keeps failing is
// logged and skipped, never surfaced to the request that produced the event.
//
// Events are queued per session so a session's started/recorded/stopped
// sequence reaches each subscriber in the order it happened. Distinct
// sessions deliver concurrently.
type Dispatcher struct {
	logger       *log.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration
	queueSize    int

	mu      sync.Mutex
	workers map[string]chan queued
}

type queued struct {
	ctx   context.Context
	event tracker.Event
}

func New(logger *log.Logger, subs []subscribers.Subscriber) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
		queueSize:    defaultQueueSize,
		workers:      make(map[string]chan queued),
	}
}

// Dispatch enqueues the event for delivery and returns immediately. When a
// session's queue is full the event is dropped and logged; delivery is
// best-effort.
func (d *Dispatcher) Dispatch(ctx context.Context, event tracker.Event) {
	key := event.SessionID
	if key == "" {
		key = "global"
	}

	// Delivery must survive the request that produced the event; only the
	// context values travel along.
	select {
	case d.workerFor(key) <- queued{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		d.logger.Printf("event queue full, dropping session_id=%s event=%s", event.SessionID, event.Type)
	}
}

func (d *Dispatcher) workerFor(key string) chan queued {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.workers[key]; ok {
		return ch
	}

	ch := make(chan queued, d.queueSize)
	d.workers[key] = ch

	go func() {
		for item := range ch {
			for _, sub := range d.subscribers {
				d.deliver(item.ctx, sub, item.event)
			}
		}
	}()

	return ch
}

func (d *Dispatcher) deliver(ctx context.Context, sub subscribers.Subscriber, event tracker.Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.logger.Printf("subscriber=%s event=%s session_id=%s attempt=%d err=%v", sub.Name(), event.Type, event.SessionID, attempt, err)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
