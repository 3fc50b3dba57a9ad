// Package dialogs keeps conversation summaries: top message, ordering index, unread counters.
package dialogs

import (
	"sort"
	"time"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
)

// Emitter queues events for delivery.
type Emitter interface {
	Emit(ev notify.Event)
}

const (
	pinnedBase = int64(1) << 62
	// the low bits of an index break ties between dialogs updated within the same second
	tieBits = 21
	tieMask = 1<<tieBits - 1
)

// Store holds every known dialog. It is not safe for concurrent use.
type Store struct {
	emit    Emitter
	now     func() time.Time
	dialogs map[model.PeerID]*model.Dialog
	pinned  []model.PeerID
	// dates remembers the top message date used for each dialog's index
	dates map[model.PeerID]int64
	// unread is the open unread scope, if any
	unread *UnreadScope
}

type discard struct{}

func (discard) Emit(notify.Event) {}

// New constructs an empty Store emitting on e (nil discards events).
func New(e Emitter) *Store {
	if e == nil {
		e = discard{}
	}
	return &Store{
		emit:    e,
		now:     time.Now,
		dialogs: make(map[model.PeerID]*model.Dialog),
		dates:   make(map[model.PeerID]int64),
	}
}

// Get returns the dialog of peer or nil.
func (s *Store) Get(peer model.PeerID) *model.Dialog { return s.dialogs[peer] }

// Len returns the number of dialogs.
func (s *Store) Len() int { return len(s.dialogs) }

// Set inserts or replaces d and indexes it by topDate (the date of its top message).
func (s *Store) Set(d *model.Dialog, topDate int64) {
	if d == nil || d.PeerID == model.NoPeer {
		return
	}
	s.dialogs[d.PeerID] = d
	if d.Pinned {
		s.addPinned(d.PeerID)
	} else {
		s.removePinned(d.PeerID)
	}
	s.dates[d.PeerID] = topDate
	s.reindexAll()
}

// Drop removes the dialog of peer and reports whether it existed.
func (s *Store) Drop(peer model.PeerID) bool {
	if _, ok := s.dialogs[peer]; !ok {
		return false
	}
	delete(s.dialogs, peer)
	delete(s.dates, peer)
	s.removePinned(peer)
	s.reindexAll()
	s.emit.Emit(notify.DialogDrop{Peer: peer})
	return true
}

// SetTopMessage points d at msg and re-derives its index in the same step.
func (s *Store) SetTopMessage(d *model.Dialog, msg *model.Message) {
	if d == nil || msg == nil {
		return
	}
	d.TopMessage = msg.ID
	s.dates[d.PeerID] = msg.Date
	s.reindex(d)
}

// Touch re-derives the index of d after its draft or pin changed.
func (s *Store) Touch(d *model.Dialog) {
	if d == nil {
		return
	}
	if d.Pinned {
		s.addPinned(d.PeerID)
	} else {
		s.removePinned(d.PeerID)
	}
	s.reindexAll()
}

// SetPinnedOrder replaces the pinned order; dialogs not listed are unpinned.
func (s *Store) SetPinnedOrder(order []model.PeerID) {
	listed := make(map[model.PeerID]bool, len(order))
	s.pinned = s.pinned[:0]
	for _, p := range order {
		if d := s.dialogs[p]; d != nil && !listed[p] {
			listed[p] = true
			d.Pinned = true
			s.pinned = append(s.pinned, p)
		}
	}
	for p, d := range s.dialogs {
		if !listed[p] {
			d.Pinned = false
		}
	}
	s.reindexAll()
}

// List returns the dialogs ordered by index, newest first.
func (s *Store) List() []*model.Dialog {
	out := make([]*model.Dialog, 0, len(s.dialogs))
	for _, d := range s.dialogs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index > out[j].Index
		}
		return out[i].PeerID > out[j].PeerID
	})
	return out
}

// TotalUnread counts unread dialogs' messages of unmuted dialogs; a manual unread mark counts as one.
func (s *Store) TotalUnread() int64 {
	now := s.now().Unix()
	var total int64
	for _, d := range s.dialogs {
		if d.IsMuted(now) {
			continue
		}
		switch {
		case d.UnreadCount > 0:
			total += int64(d.UnreadCount)
		case d.UnreadMark:
			total++
		}
	}
	return total
}

func (s *Store) addPinned(p model.PeerID) {
	for _, cur := range s.pinned {
		if cur == p {
			return
		}
	}
	s.pinned = append([]model.PeerID{p}, s.pinned...)
}

func (s *Store) removePinned(p model.PeerID) {
	for i, cur := range s.pinned {
		if cur == p {
			s.pinned = append(s.pinned[:i], s.pinned[i+1:]...)
			return
		}
	}
}

func (s *Store) reindexAll() {
	for _, d := range s.dialogs {
		s.reindex(d)
	}
}

func (s *Store) reindex(d *model.Dialog) {
	if d.Pinned {
		for i, p := range s.pinned {
			if p == d.PeerID {
				d.Index = pinnedBase - int64(i)
				return
			}
		}
	}
	date := s.dates[d.PeerID]
	if d.Draft != nil && d.Draft.Date > date {
		date = d.Draft.Date
	}
	d.Index = date<<tieBits | int64(ids.ServerID(d.TopMessage))&tieMask
}
