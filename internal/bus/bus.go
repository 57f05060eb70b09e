// Package bus provides the engine's synchronous in-process event bus.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is a typed engine event with a stable name.
type Event struct {
	Name      string         `json:"name"`
	ContextID string         `json:"context_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives an event. Handlers run synchronously on the
// emitting goroutine.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus delivers events to subscribers in registration order. A panicking
// subscriber is isolated: the panic is recovered, reported on the error
// channel, and delivery continues with the remaining subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
	all    []subscriber // wildcard subscribers, receive every event
	errs   []Handler    // error channel, never re-entered on failure
}

func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers a handler for the named event and returns an
// unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[name]
		for i, s := range list {
			if s.id == id {
				b.subs[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every event. Used by bridges
// (event archive, NATS fan-out, websocket hub).
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.all {
			if s.id == id {
				b.all = append(b.all[:i:i], b.all[i+1:]...)
				return
			}
		}
	}
}

// OnError registers a handler for subscriber failures.
func (b *Bus) OnError(fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, fn)
}

// Emit delivers the event synchronously to named subscribers first, then
// to wildcard subscribers, each in registration order.
func (b *Bus) Emit(name, contextID string, payload map[string]any) {
	ev := Event{Name: name, ContextID: contextID, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	named := make([]subscriber, len(b.subs[name]))
	copy(named, b.subs[name])
	wild := make([]subscriber, len(b.all))
	copy(wild, b.all)
	b.mu.RUnlock()

	for _, s := range named {
		b.deliver(s, ev)
	}
	for _, s := range wild {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.reportError(ev, r)
		}
	}()
	s.fn(ev)
}

func (b *Bus) reportError(ev Event, r any) {
	slog.Error("event subscriber failed", "event", ev.Name, "panic", r)

	errEv := Event{
		Name:      "error",
		ContextID: ev.ContextID,
		Payload:   map[string]any{"event": ev.Name, "error": fmt.Sprint(r)},
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	errs := make([]Handler, len(b.errs))
	copy(errs, b.errs)
	b.mu.RUnlock()

	for _, fn := range errs {
		func() {
			defer func() { _ = recover() }() // error handlers never cascade
			fn(errEv)
		}()
	}
}
