package store

import (
	"context"
	"sync"

	"chatsync/cmd/internal/model"
)

// MemoryReadModel is the read model used when no database is configured.
type MemoryReadModel struct {
	mu      sync.RWMutex
	entries map[string]map[int64]*model.Message
}

// NewMemoryReadModel constructs an empty MemoryReadModel.
func NewMemoryReadModel() *MemoryReadModel {
	return &MemoryReadModel{entries: make(map[string]map[int64]*model.Message)}
}

// Put implements ReadModel.
func (r *MemoryReadModel) Put(ctx context.Context, storageKey string, id int64, msg *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.entries[storageKey]
	if c == nil {
		c = make(map[int64]*model.Message)
		r.entries[storageKey] = c
	}
	c[id] = msg.Clone()
	return nil
}

// Remove implements ReadModel.
func (r *MemoryReadModel) Remove(ctx context.Context, storageKey string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.entries[storageKey]; c != nil {
		delete(c, id)
		if len(c) == 0 {
			delete(r.entries, storageKey)
		}
	}
	return nil
}

// Get implements ReadModel.
func (r *MemoryReadModel) Get(ctx context.Context, storageKey string, id int64) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.entries[storageKey][id]
	if m == nil {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// Len returns the number of entries under storageKey.
func (r *MemoryReadModel) Len(storageKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[storageKey])
}

// Ping implements ReadModel.
func (r *MemoryReadModel) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements ReadModel (noop for in-memory).
func (r *MemoryReadModel) Close() error { return nil }
