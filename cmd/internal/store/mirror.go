package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatsync/cmd/internal/metrics"
	"chatsync/cmd/internal/model"
)

// MirrorOp is one read-model write. A nil Message removes the entry.
type MirrorOp struct {
	StorageKey string
	ID         int64
	Message    *model.Message
}

// ReadModel is the shared read model observers query outside the engine.
//
// Requirements:
//   - Put and Remove are idempotent per (storage_key, id)
//   - Remove of a missing entry is not an error
type ReadModel interface {
	Put(ctx context.Context, storageKey string, id int64, msg *model.Message) error
	Remove(ctx context.Context, storageKey string, id int64) error
	Get(ctx context.Context, storageKey string, id int64) (*model.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned by ReadModel.Get for a missing entry.
var ErrNotFound = errors.New("store: not found")

const (
	defaultMirrorQueue = 1024
	mirrorOpTimeout    = 5 * time.Second
)

// Mirror applies MirrorOps to a ReadModel on its own goroutine so the engine never waits on I/O.
//
// Enqueue never blocks: when the queue is full the op is dropped and counted.
type Mirror struct {
	log *slog.Logger
	rm  ReadModel
	met *metrics.Metrics

	ops  chan MirrorOp
	idle chan struct{}

	mu      sync.Mutex
	pending int
}

// NewMirror constructs a Mirror with a bounded queue.
func NewMirror(log *slog.Logger, rm ReadModel, queueSize int, met *metrics.Metrics) *Mirror {
	if queueSize <= 0 {
		queueSize = defaultMirrorQueue
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		log:  log,
		rm:   rm,
		met:  met,
		ops:  make(chan MirrorOp, queueSize),
		idle: make(chan struct{}, 1),
	}
}

// Enqueue implements Mirrorer.
func (m *Mirror) Enqueue(op MirrorOp) bool {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()

	select {
	case m.ops <- op:
		return true
	default:
		m.done()
		m.met.Mirror("dropped")
		m.log.Warn("store.mirror.drop", "storage_key", op.StorageKey, "id", op.ID)
		return false
	}
}

// Run applies queued ops until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-m.ops:
			m.apply(ctx, op)
			m.done()
		}
	}
}

// Wait blocks until every enqueued op was applied or ctx is done.
func (m *Mirror) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		n := m.pending
		m.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.idle:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Mirror) done() {
	m.mu.Lock()
	m.pending--
	n := m.pending
	m.mu.Unlock()
	if n == 0 {
		select {
		case m.idle <- struct{}{}:
		default:
		}
	}
}

func (m *Mirror) apply(parent context.Context, op MirrorOp) {
	ctx, cancel := context.WithTimeout(parent, mirrorOpTimeout)
	defer cancel()

	var err error
	result := "put"
	if op.Message == nil {
		result = "remove"
		err = m.rm.Remove(ctx, op.StorageKey, op.ID)
	} else {
		err = m.rm.Put(ctx, op.StorageKey, op.ID, op.Message)
	}
	if err != nil {
		m.met.Mirror("error")
		m.log.Error("store.mirror.fail", "op", result, "storage_key", op.StorageKey, "id", op.ID, "err", err)
		return
	}
	m.met.Mirror(result)
}
