package dialogs

import (
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
)

type counters struct {
	unread   int32
	mentions int32
	mark     bool
}

func snapshot(d *model.Dialog) counters {
	return counters{unread: d.UnreadCount, mentions: d.UnreadMentionsCount, mark: d.UnreadMark}
}

// UnreadScope batches unread counter changes. Every dialog is tracked before its counters change;
// Release emits one dialog_unread per changed dialog and at most one total_unread.
type UnreadScope struct {
	store   *Store
	total   int64
	order   []model.PeerID
	before  map[model.PeerID]counters
	release bool
	// outer is set when the scope was opened inside another one
	outer *UnreadScope
}

// BeginUnread opens an unread modification scope. While a scope is open, further calls join it:
// their tracking goes to the outermost scope and their Release emits nothing.
func (s *Store) BeginUnread() *UnreadScope {
	if s.unread != nil {
		return &UnreadScope{store: s, outer: s.unread}
	}
	u := &UnreadScope{
		store:  s,
		total:  s.TotalUnread(),
		before: make(map[model.PeerID]counters),
	}
	s.unread = u
	return u
}

// Track records the counters of d before they are modified. Tracking twice keeps the first snapshot.
func (u *UnreadScope) Track(d *model.Dialog) *model.Dialog {
	if d == nil {
		return nil
	}
	if u.outer != nil {
		return u.outer.Track(d)
	}
	if _, ok := u.before[d.PeerID]; !ok {
		u.before[d.PeerID] = snapshot(d)
		u.order = append(u.order, d.PeerID)
	}
	return d
}

// Release emits the batched notifications. It is safe to call more than once.
func (u *UnreadScope) Release() {
	if u.release {
		return
	}
	u.release = true
	if u.outer != nil {
		return
	}

	s := u.store
	s.unread = nil
	for _, p := range u.order {
		d := s.dialogs[p]
		if d == nil {
			continue
		}
		if d.UnreadCount < 0 {
			d.UnreadCount = 0
		}
		if d.UnreadMentionsCount < 0 {
			d.UnreadMentionsCount = 0
		}
		if snapshot(d) != u.before[p] {
			s.emit.Emit(notify.DialogUnread{
				Peer:           p,
				UnreadCount:    d.UnreadCount,
				UnreadMentions: d.UnreadMentionsCount,
			})
		}
	}
	if total := s.TotalUnread(); total != u.total {
		s.emit.Emit(notify.TotalUnread{Count: total})
	}
}
