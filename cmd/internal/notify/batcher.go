package notify

import "sync"

// ResolveFunc turns the coalesced keys of one channel into a single event. first holds the value
// captured when each key was first pushed in the tick; the resolver reads current state for the
// latest value. Returning nil drops the batch.
type ResolveFunc func(keys []string, first map[string]any) Event

type batch struct {
	resolve ResolveFunc
	keys    []string
	first   map[string]any
}

// Batcher coalesces per-key notifications into one event per channel per tick.
type Batcher struct {
	mu       sync.Mutex
	channels map[string]*batch
	order    []string
}

// NewBatcher constructs an empty Batcher.
func NewBatcher() *Batcher {
	return &Batcher{channels: make(map[string]*batch)}
}

// Push marks key dirty on channel. capture, if non-nil, is called only for the first push of key
// within the tick.
func (b *Batcher) Push(channel string, resolve ResolveFunc, key string, capture func() any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bt := b.channels[channel]
	if bt == nil {
		bt = &batch{resolve: resolve, first: make(map[string]any)}
		b.channels[channel] = bt
		b.order = append(b.order, channel)
	}
	if _, seen := bt.first[key]; seen {
		return
	}
	var v any
	if capture != nil {
		v = capture()
	}
	bt.first[key] = v
	bt.keys = append(bt.keys, key)
}

// Pending reports whether any channel has dirty keys.
func (b *Batcher) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order) > 0
}

// Flush resolves every dirty channel and emits the results on bus.
func (b *Batcher) Flush(bus *Bus) {
	b.mu.Lock()
	channels, order := b.channels, b.order
	b.channels = make(map[string]*batch)
	b.order = nil
	b.mu.Unlock()

	for _, name := range order {
		bt := channels[name]
		if ev := bt.resolve(bt.keys, bt.first); ev != nil {
			bus.Emit(ev)
		}
	}
}
