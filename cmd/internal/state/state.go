// Package state persists small scalars (max-seen id, identifier scope table) across restarts.
package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
)

// Well-known keys.
const (
	KeyMaxSeenID = "messages.max_seen_id"
	KeyIDScopes  = "ids.scopes"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state: closed")

// Store is the local key-value state.
type Store interface {
	GetInt64(key string) (int64, bool, error)
	SetInt64(key string, v int64) error
	GetJSON(key string, out any) (bool, error)
	SetJSON(key string, v any) error
	Close() error
}

// MemoryStore is a Store that forgets everything on exit.
type MemoryStore struct {
	mu     sync.Mutex
	kv     map[string][]byte
	closed bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string][]byte)}
}

func (s *MemoryStore) get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *MemoryStore) set(key string, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.kv[key] = v
	return nil
}

// GetInt64 implements Store.
func (s *MemoryStore) GetInt64(key string) (int64, bool, error) {
	b, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, false, err
	}
	return decodeInt64(b)
}

// SetInt64 implements Store.
func (s *MemoryStore) SetInt64(key string, v int64) error {
	return s.set(key, encodeInt64(v))
}

// GetJSON implements Store.
func (s *MemoryStore) GetJSON(key string, out any) (bool, error) {
	b, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

// SetJSON implements Store.
func (s *MemoryStore) SetJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.set(key, b)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func encodeInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeInt64(b []byte) (int64, bool, error) {
	if len(b) != 8 {
		return 0, false, errors.New("state: malformed int64 value")
	}
	return int64(binary.BigEndian.Uint64(b)), true, nil
}
