// Package event provides the publish/subscribe bus used to observe query
// execution.
//
// Every statement produces two events: a KindQuery event carrying the
// resolved SQL and the time compilation finished, and a KindQueryEnd event
// carrying the elapsed duration and the execution error, if any.
//
//	bus := event.NewBus()
//	sub := bus.On(event.KindQueryEnd, func(e event.Event) {
//	    slog.Info("query done", "sql", e.SQL, "duration", e.Duration)
//	})
//	defer bus.Off(sub)
package event

import (
	"sync"
	"time"
)

// Kind identifies the type of an event.
type Kind string

const (
	// KindQuery is emitted once a template has been resolved into SQL.
	KindQuery Kind = "query"
	// KindQueryEnd is emitted after the statement finished executing.
	KindQueryEnd Kind = "query-end"
)

// Event is the payload delivered to handlers.
type Event struct {
	Kind     Kind
	Host     string
	Database string
	SQL      string
	// Time is the moment the event was raised.
	Time time.Time
	// Duration and Err are only set on KindQueryEnd events.
	Duration time.Duration
	Err      error
}

// Handler receives events.
type Handler func(Event)

// Sink is implemented by anything that accepts events.
type Sink interface {
	Emit(Event)
}

// Subscription identifies a registered handler.
type Subscription struct {
	kind Kind
	id   uint64
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() Kind { return s.kind }

type entry struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a concurrency-safe event bus keyed by event kind.
// The zero value is ready to use.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Kind][]entry
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]entry)}
}

// On registers h for every event of the given kind.
func (b *Bus) On(kind Kind, h Handler) Subscription {
	return b.add(kind, h, false)
}

// Once registers h for the next event of the given kind only.
func (b *Bus) Once(kind Kind, h Handler) Subscription {
	return b.add(kind, h, true)
}

func (b *Bus) add(kind Kind, h Handler, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[Kind][]entry)
	}
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], entry{id: b.nextID, handler: h, once: once})
	return Subscription{kind: kind, id: b.nextID}
}

// Off removes the handler behind s. Removing an unknown or already removed
// subscription is a no-op.
func (b *Bus) Off(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(s)
}

// remove must be called with b.mu held.
func (b *Bus) remove(s Subscription) bool {
	entries := b.handlers[s.kind]
	for i, e := range entries {
		if e.id == s.id {
			b.handlers[s.kind] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of handlers registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Emit delivers e to the handlers registered for e.Kind, synchronously and
// in registration order. Once handlers are unregistered before they run.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	entries := b.handlers[e.Kind]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	hasOnce := false
	for _, en := range snapshot {
		if en.once {
			hasOnce = true
			break
		}
	}
	b.mu.RUnlock()

	if hasOnce {
		b.mu.Lock()
		kept := snapshot[:0]
		for _, en := range snapshot {
			// A concurrent Emit may already have consumed this once handler.
			if en.once && !b.remove(Subscription{kind: e.Kind, id: en.id}) {
				continue
			}
			kept = append(kept, en)
		}
		snapshot = kept
		b.mu.Unlock()
	}

	for _, en := range snapshot {
		en.handler(e)
	}
}

var _ Sink = (*Bus)(nil)
