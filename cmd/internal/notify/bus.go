// Package notify queues engine events and delivers them outside the engine's critical section.
package notify

import "sync"

// Handler receives delivered events. Handlers may call back into the engine.
type Handler func(Event)

// Bus collects emitted events and delivers them on Flush, in emission order.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	nextID int
	subs   map[int]Handler
	order  []int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Emit queues ev for the next Flush.
func (b *Bus) Emit(ev Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
}

// Flush delivers every queued event to every subscriber and returns how many were delivered.
func (b *Bus) Flush() int {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, ev := range queue {
		for _, h := range handlers {
			h(ev)
		}
	}
	return len(queue)
}
