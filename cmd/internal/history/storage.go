package history

import (
	"sort"

	"chatsync/cmd/internal/model"
)

// CountUnknown is the Count of a storage that never received a server count.
const CountUnknown int32 = -1

// Storage is the cached history of one peer or one thread.
type Storage struct {
	Peer     model.PeerID
	ThreadID int64
	// Search storages hold filtered results and are never registered.
	Search bool

	History *SlicedArray
	Count   int32
	// MaxID is the newest id known to exist in the history.
	MaxID           int64
	ReadMaxID       int64
	ReadOutboxMaxID int64
	// TriedToReadMaxID is the newest id a read acknowledgement was sent for.
	TriedToReadMaxID int64

	ReplyMarkup   *model.ReplyMarkup
	ReplyMarkupID int64
}

// NewStorage returns an empty storage.
func NewStorage(peer model.PeerID, threadID int64) *Storage {
	return &Storage{
		Peer:     peer,
		ThreadID: threadID,
		History:  NewSlicedArray(),
		Count:    CountUnknown,
	}
}

// Clear drops every cached id and the derived watermarks. Read positions survive.
func (s *Storage) Clear() {
	s.History = NewSlicedArray()
	s.Count = CountUnknown
	s.MaxID = 0
	s.ReplyMarkup = nil
	s.ReplyMarkupID = 0
}

// CountKnown reports whether the server told the total size of the history.
func (s *Storage) CountKnown() bool { return s.Count >= 0 }

// AddCount adjusts a known count by delta, never below zero.
func (s *Storage) AddCount(delta int32) {
	if !s.CountKnown() {
		return
	}
	s.Count = max(s.Count+delta, 0)
}

// MergeReplyMarkup keeps the keyboard of the newest message that carries one and reports whether it
// changed.
func (s *Storage) MergeReplyMarkup(msg *model.Message) bool {
	if msg == nil || msg.ReplyMarkup == nil || msg.ID < s.ReplyMarkupID {
		return false
	}
	if msg.ID == s.ReplyMarkupID && s.ReplyMarkup == msg.ReplyMarkup {
		return false
	}
	s.ReplyMarkup = msg.ReplyMarkup
	s.ReplyMarkupID = msg.ID
	return true
}

type storageKey struct {
	peer   model.PeerID
	thread int64
}

// Registry owns the storages of every peer and thread. It is not safe for concurrent use.
type Registry struct {
	storages map[storageKey]*Storage
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{storages: make(map[storageKey]*Storage)}
}

// Get returns the storage of (peer, thread), creating it on first use.
func (r *Registry) Get(peer model.PeerID, threadID int64) *Storage {
	k := storageKey{peer, threadID}
	s := r.storages[k]
	if s == nil {
		s = NewStorage(peer, threadID)
		r.storages[k] = s
	}
	return s
}

// Peek returns the storage of (peer, thread) or nil.
func (r *Registry) Peek(peer model.PeerID, threadID int64) *Storage {
	return r.storages[storageKey{peer, threadID}]
}

// Threads returns the thread storages of peer, oldest thread first. The peer storage is excluded.
func (r *Registry) Threads(peer model.PeerID) []*Storage {
	var out []*Storage
	for k, s := range r.storages {
		if k.peer == peer && k.thread != 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out
}

// Drop forgets peer and all its threads.
func (r *Registry) Drop(peer model.PeerID) {
	for k := range r.storages {
		if k.peer == peer {
			delete(r.storages, k)
		}
	}
}

// NewSearch returns a detached storage for a filtered search.
func (r *Registry) NewSearch(peer model.PeerID) *Storage {
	s := NewStorage(peer, 0)
	s.Search = true
	return s
}
