// Package bus is the in-process publish/subscribe layer that connects
// the realtime components to their consumers without direct coupling.
package bus

import "sync"

// Handler receives the payload published for an event.
type Handler func(payload any)

type subscription struct {
	id uint64
	fn Handler
}

// Bus maps event names to ordered subscriber lists. Dispatch is
// synchronous: Emit invokes each handler exactly once, in subscription
// order, on the caller's goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// On registers a handler for an event and returns its unsubscribe func.
// Unsubscribing twice is a no-op.
func (b *Bus) On(event string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() { b.off(event, id) }
}

func (b *Bus) off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[event]
	for i, sub := range list {
		if sub.id == id {
			b.subs[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

// Emit delivers payload to every subscriber of event, in subscription
// order. Handlers registered during dispatch do not receive the
// current emission.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	list := b.subs[event]
	fns := make([]Handler, len(list))
	for i, sub := range list {
		fns[i] = sub.fn
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
