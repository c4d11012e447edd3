// Package dispatch implements the Event Dispatcher (C10): synchronous,
// single-threaded fan-out of lifecycle events to every subscriber of a
// streaming call. It generalizes the teacher's notify.go Listener/Notify
// pair (pkg/ai/notify.go) from a single per-call-site callback to the
// full lifecycle vocabulary of spec.md §6, anchored to a session and
// attempt number.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
)

// Listener receives an event of type E. Kept as the teacher's generic
// shape so call sites that only care about one lifecycle kind can still
// subscribe narrowly via Envelope.Event type assertions.
type Listener[E any] func(ctx context.Context, event E)

// Notify safely dispatches event to every listener in listeners, in
// order. A panicking listener is recovered and discarded so it never
// interrupts delivery to the remaining listeners.
func Notify[E any](ctx context.Context, ev E, listeners ...Listener[E]) {
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		safeCall(ctx, ev, fn)
	}
}

func safeCall[E any](ctx context.Context, ev E, fn Listener[E]) {
	defer func() {
		recover() //nolint:errcheck // intentionally ignore panic value
	}()
	fn(ctx, ev)
}

// Envelope anchors one dispatched event to its originating call.
type Envelope struct {
	SessionID string
	Attempt   int
	Event     event.Event
	At        time.Time
}

// Dispatcher fans every Envelope out to the subscribers registered on it.
// It is the single point through which the orchestrator notifies the
// outside world; callers never see partial or out-of-order delivery
// because dispatch happens synchronously on the orchestrator's goroutine.
type Dispatcher struct {
	mu        sync.Mutex
	sessionID string
	attempt   int
	listeners []Listener[Envelope]
}

// New creates a Dispatcher for one call, identified by sessionID.
func New(sessionID string) *Dispatcher {
	return &Dispatcher{sessionID: sessionID}
}

// Subscribe registers a listener invoked for every subsequent Dispatch
// call, in registration order.
func (d *Dispatcher) Subscribe(l Listener[Envelope]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// SetAttempt records which retry attempt subsequently dispatched events
// belong to, so subscribers can tell a retried continuation's events
// apart from the original attempt's.
func (d *Dispatcher) SetAttempt(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempt = n
}

// Dispatch wraps ev in an Envelope carrying the dispatcher's current
// session and attempt, and notifies every subscriber.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) {
	d.mu.Lock()
	envelope := Envelope{
		SessionID: d.sessionID,
		Attempt:   d.attempt,
		Event:     ev,
		At:        time.Now(),
	}
	listeners := make([]Listener[Envelope], len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	Notify(ctx, envelope, listeners...)
}
