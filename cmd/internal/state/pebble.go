package state

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "chatsync/"

// PebbleStore is a Store backed by a Pebble database directory.
type PebbleStore struct {
	log *slog.Logger

	mu sync.RWMutex
	db *pebble.DB
}

// OpenPebble opens (or creates) the state database at path.
func OpenPebble(path string, log *slog.Logger) (*PebbleStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("state.pebble.open.fail", "path", path, "err", err)
		return nil, err
	}
	log.Info("state.pebble.opened", "path", path)
	return &PebbleStore{log: log, db: db}, nil
}

func (s *PebbleStore) get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, false, ErrClosed
	}

	v, closer, err := s.db.Get([]byte(keyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *PebbleStore) set(key string, v []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Set([]byte(keyPrefix+key), v, pebble.Sync)
}

// GetInt64 implements Store.
func (s *PebbleStore) GetInt64(key string) (int64, bool, error) {
	b, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, false, err
	}
	return decodeInt64(b)
}

// SetInt64 implements Store.
func (s *PebbleStore) SetInt64(key string, v int64) error {
	return s.set(key, encodeInt64(v))
}

// GetJSON implements Store.
func (s *PebbleStore) GetJSON(key string, out any) (bool, error) {
	b, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

// SetJSON implements Store.
func (s *PebbleStore) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.set(key, b)
}

// Close flushes and closes the database (idempotent).
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
