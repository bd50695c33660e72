// Package store implements the durable local record store.
package store

import (
	"sync"
	"time"

	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
)

// Listener receives change events. Listeners are invoked synchronously, in
// registration order, before the emitting write returns.
type Listener func(models.ChangeEvent)

// Bus fans change events out to registered listeners.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns a token for Unsubscribe.
func (b *Bus) Subscribe(fn Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.listeners[b.nextID] = fn
	b.order = append(b.order, b.nextID)
	return b.nextID
}

// Unsubscribe removes a listener. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[token]; !ok {
		return
	}
	delete(b.listeners, token)
	for i, id := range b.order {
		if id == token {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Emit delivers an event to every listener. A panicking listener must not
// prevent the others from being notified.
func (b *Bus) Emit(event models.ChangeEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	fns := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("change listener panicked",
						map[string]any{"event": event.Type, "panic": r})
				}
			}()
			fn(event)
		}()
	}
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
