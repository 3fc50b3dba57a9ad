// Package store owns every message the engine knows about, keyed by (peer, storage kind), and mirrors
// history/scheduled writes into a shared read model for observers outside the engine.
package store

import (
	"fmt"
	"sort"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
)

// Kind is a storage kind.
type Kind string

const (
	KindHistory   Kind = "history"
	KindScheduled Kind = "scheduled"
	KindGrouped   Kind = "grouped"
)

// Key identifies one message collection. Grouped collections are keyed by album id instead of peer.
type Key struct {
	Peer  model.PeerID
	Kind  Kind
	Group string
}

// History returns the history key of peer.
func History(peer model.PeerID) Key { return Key{Peer: peer, Kind: KindHistory} }

// Scheduled returns the scheduled key of peer.
func Scheduled(peer model.PeerID) Key { return Key{Peer: peer, Kind: KindScheduled} }

// Grouped returns the key of an album.
func Grouped(groupedID string) Key { return Key{Kind: KindGrouped, Group: groupedID} }

// String renders the key as "<peer>_<kind>" (or "<group>_grouped").
func (k Key) String() string {
	if k.Kind == KindGrouped {
		return k.Group + "_" + string(KindGrouped)
	}
	return fmt.Sprintf("%d_%s", k.Peer, k.Kind)
}

// LegacyKey is the storage key of the process-wide legacy collection.
const LegacyKey = "legacy"

// Reader is the read-only view of the store.
type Reader interface {
	Get(key Key, id int64) *model.Message
	Has(key Key, id int64) bool
	IDs(key Key) []int64
	Len(key Key) int
	ByGroupedID(groupedID string) []*model.Message
	FindPeerByIDs(ids []int64) model.PeerID
}

// Writer mutates the store. Only the engine's entry points hold one.
type Writer interface {
	Reader
	Set(key Key, msg *model.Message)
	Delete(key Key, id int64) *model.Message
	Touch(key Key, id int64)
	Drop(key Key)
}

// Mirrorer receives one operation per mirrored set/delete.
type Mirrorer interface {
	Enqueue(op MirrorOp) bool
}

// Store is the Message Store. It is not safe for concurrent use; the engine serializes access.
type Store struct {
	mirror      Mirrorer
	collections map[Key]map[int64]*model.Message
	legacy      map[int64]*model.Message
}

var _ Writer = (*Store)(nil)

// New constructs a Store mirroring into m (nil disables mirroring).
func New(m Mirrorer) *Store {
	return &Store{
		mirror:      m,
		collections: make(map[Key]map[int64]*model.Message),
		legacy:      make(map[int64]*model.Message),
	}
}

func (s *Store) collection(key Key, create bool) map[int64]*model.Message {
	c := s.collections[key]
	if c == nil && create {
		c = make(map[int64]*model.Message)
		s.collections[key] = c
	}
	return c
}

// Get returns the message or nil. History lookups fall back to the legacy collection.
func (s *Store) Get(key Key, id int64) *model.Message {
	if c := s.collection(key, false); c != nil {
		if m := c[id]; m != nil {
			return m
		}
	}
	if key.Kind == KindHistory && ids.IsLegacy(id) {
		if m := s.legacy[id]; m != nil && (key.Peer == model.NoPeer || m.PeerID == key.Peer) {
			return m
		}
	}
	return nil
}

// Has reports whether the collection holds id.
func (s *Store) Has(key Key, id int64) bool {
	c := s.collection(key, false)
	_, ok := c[id]
	return ok
}

// IDs returns the ids of a collection, newest first.
func (s *Store) IDs(key Key) []int64 {
	c := s.collection(key, false)
	out := make([]int64, 0, len(c))
	for id := range c {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// Len returns the size of a collection.
func (s *Store) Len(key Key) int { return len(s.collection(key, false)) }

// ByGroupedID returns the album's messages, oldest first.
func (s *Store) ByGroupedID(groupedID string) []*model.Message {
	c := s.collection(Grouped(groupedID), false)
	out := make([]*model.Message, 0, len(c))
	for _, m := range c {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindPeerByIDs resolves the peer of legacy-scoped ids (their delete updates carry no peer).
func (s *Store) FindPeerByIDs(list []int64) model.PeerID {
	for _, id := range list {
		if m := s.legacy[id]; m != nil {
			return m.PeerID
		}
	}
	return model.NoPeer
}

// Set stores msg under key, replacing any message with the same id. Set is idempotent.
func (s *Store) Set(key Key, msg *model.Message) {
	if msg == nil || msg.ID == 0 {
		return
	}
	s.collection(key, true)[msg.ID] = msg

	if key.Kind == KindHistory {
		if ids.IsLegacy(msg.ID) {
			s.legacy[msg.ID] = msg
		}
		if msg.GroupedID != "" {
			s.collection(Grouped(msg.GroupedID), true)[msg.ID] = msg
		}
	}
	s.mirrorPut(key, msg)
}

// Delete removes id from key and returns the removed message. Deleting a missing id is a no-op.
func (s *Store) Delete(key Key, id int64) *model.Message {
	c := s.collection(key, false)
	msg, ok := c[id]
	if !ok {
		return nil
	}
	delete(c, id)
	if len(c) == 0 {
		delete(s.collections, key)
	}

	if key.Kind == KindHistory {
		if cur := s.legacy[id]; cur == msg {
			delete(s.legacy, id)
		}
		if msg.GroupedID != "" {
			g := Grouped(msg.GroupedID)
			if gc := s.collection(g, false); gc != nil {
				delete(gc, id)
				if len(gc) == 0 {
					delete(s.collections, g)
				}
			}
		}
	}
	s.mirrorRemove(key, id)
	return msg
}

// Touch re-mirrors a message that was mutated in place.
func (s *Store) Touch(key Key, id int64) {
	if m := s.collection(key, false)[id]; m != nil {
		s.mirrorPut(key, m)
	}
}

// Drop removes a whole collection (peer teardown).
func (s *Store) Drop(key Key) {
	for _, id := range s.IDs(key) {
		s.Delete(key, id)
	}
}

func (s *Store) mirrorPut(key Key, msg *model.Message) {
	if s.mirror == nil || key.Kind == KindGrouped {
		return
	}
	snap := msg.Clone()
	s.mirror.Enqueue(MirrorOp{StorageKey: key.String(), ID: msg.ID, Message: snap})
	if key.Kind == KindHistory && ids.IsLegacy(msg.ID) {
		s.mirror.Enqueue(MirrorOp{StorageKey: LegacyKey, ID: msg.ID, Message: snap})
	}
}

func (s *Store) mirrorRemove(key Key, id int64) {
	if s.mirror == nil || key.Kind == KindGrouped {
		return
	}
	s.mirror.Enqueue(MirrorOp{StorageKey: key.String(), ID: id})
	if key.Kind == KindHistory && ids.IsLegacy(id) {
		s.mirror.Enqueue(MirrorOp{StorageKey: LegacyKey, ID: id})
	}
}
