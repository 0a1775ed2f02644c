package events

import (
	"log/slog"
	"sync"
	"time"
)

// Handler consumes one event. Handlers run synchronously in publish
// order and must not block indefinitely.
type Handler func(Event)

// Bus fans events out to subscribers. A handler panic is caught and
// logged; it never propagates back into the request pipeline. Ordering
// is guaranteed within one request's event sequence, not across requests.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event", e.Type,
				"request_id", e.RequestID,
				"panic", r,
			)
		}
	}()
	h(e)
}
