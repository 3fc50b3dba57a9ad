package dialogs

import (
	"testing"
	"time"

	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
)

type recorder struct{ events []notify.Event }

func (r *recorder) Emit(ev notify.Event) { r.events = append(r.events, ev) }

func (r *recorder) names() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name())
	}
	return out
}

func TestStore_ListOrdersByTopMessageDate(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Set(&model.Dialog{PeerID: 1, TopMessage: 10 << 12}, 100)
	s.Set(&model.Dialog{PeerID: 2, TopMessage: 20 << 12}, 300)
	s.Set(&model.Dialog{PeerID: 3, TopMessage: 30 << 12}, 200)

	got := peersOf(s.List())
	want := []model.PeerID{2, 3, 1}
	if !equalPeers(got, want) {
		t.Fatalf("List()=%v want=%v", got, want)
	}

	d := s.Get(1)
	s.SetTopMessage(d, &model.Message{ID: 11 << 12, Date: 400})
	if d.TopMessage != 11<<12 {
		t.Fatalf("TopMessage=%d want=%d", d.TopMessage, 11<<12)
	}
	if got := peersOf(s.List()); got[0] != 1 {
		t.Fatalf("List()[0]=%v want=1 after new top message", got[0])
	}
}

func TestStore_PinnedFirst(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Set(&model.Dialog{PeerID: 1}, 100)
	s.Set(&model.Dialog{PeerID: 2}, 500)
	s.Set(&model.Dialog{PeerID: 3}, 300)

	s.SetPinnedOrder([]model.PeerID{3, 1})
	got := peersOf(s.List())
	want := []model.PeerID{3, 1, 2}
	if !equalPeers(got, want) {
		t.Fatalf("List()=%v want=%v", got, want)
	}

	d := s.Get(1)
	d.Pinned = false
	s.Touch(d)
	got = peersOf(s.List())
	want = []model.PeerID{3, 2, 1}
	if !equalPeers(got, want) {
		t.Fatalf("List()=%v want=%v after unpin", got, want)
	}
}

func TestStore_DraftDateCountsForOrder(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Set(&model.Dialog{PeerID: 1}, 100)
	s.Set(&model.Dialog{PeerID: 2}, 200)

	d := s.Get(1)
	d.Draft = &model.Draft{Text: "later", Date: 900}
	s.Touch(d)
	if got := peersOf(s.List()); got[0] != 1 {
		t.Fatalf("List()[0]=%v want=1 (fresh draft)", got[0])
	}
}

func TestStore_Drop(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	s := New(r)
	s.Set(&model.Dialog{PeerID: 5}, 1)

	if !s.Drop(5) {
		t.Fatalf("Drop(5)=false want=true")
	}
	if s.Drop(5) {
		t.Fatalf("second Drop(5)=true want=false")
	}
	if len(r.events) != 1 || r.events[0].Name() != "dialog_drop" {
		t.Fatalf("events=%v want=[dialog_drop]", r.names())
	}
}

func TestUnreadScope_EmitsOncePerBatch(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	s := New(r)
	s.Set(&model.Dialog{PeerID: 1, UnreadCount: 2}, 1)
	s.Set(&model.Dialog{PeerID: 2, UnreadCount: 0}, 2)

	u := s.BeginUnread()
	a := u.Track(s.Get(1))
	a.UnreadCount++
	u.Track(a).UnreadCount++ // second track keeps the first snapshot
	b := u.Track(s.Get(2))
	b.UnreadCount--
	u.Release()
	u.Release()

	var unread, total int
	for _, ev := range r.events {
		switch e := ev.(type) {
		case notify.DialogUnread:
			unread++
			if e.Peer == 2 && e.UnreadCount != 0 {
				t.Fatalf("dialog 2 unread=%d want=0 (clamped)", e.UnreadCount)
			}
		case notify.TotalUnread:
			total++
			if e.Count != 4 {
				t.Fatalf("total=%d want=4", e.Count)
			}
		}
	}
	if unread != 1 {
		t.Fatalf("dialog_unread events=%d want=1 (dialog 2 ended unchanged)", unread)
	}
	if total != 1 {
		t.Fatalf("total_unread events=%d want=1", total)
	}
}

func TestUnreadScope_NestedJoinsOuter(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	s := New(r)
	s.Set(&model.Dialog{PeerID: 1}, 1)
	r.events = nil

	outer := s.BeginUnread()
	for range 3 {
		inner := s.BeginUnread()
		inner.Track(s.Get(1)).UnreadCount++
		inner.Release()
	}
	if len(r.events) != 0 {
		t.Fatalf("events before outer release=%v want none", r.names())
	}
	outer.Release()

	var unread, total int
	for _, ev := range r.events {
		switch e := ev.(type) {
		case notify.DialogUnread:
			unread++
			if e.UnreadCount != 3 {
				t.Fatalf("unread=%d want=3", e.UnreadCount)
			}
		case notify.TotalUnread:
			total++
		}
	}
	if unread != 1 || total != 1 {
		t.Fatalf("dialog_unread=%d total_unread=%d want=1/1", unread, total)
	}

	// the store accepts a fresh scope after the outer one closed
	next := s.BeginUnread()
	next.Track(s.Get(1)).UnreadCount = 0
	next.Release()
	if got := s.TotalUnread(); got != 0 {
		t.Fatalf("TotalUnread()=%d want=0", got)
	}
}

func TestTotalUnread_SkipsMuted(t *testing.T) {
	t.Parallel()

	s := New(nil)
	now := time.Unix(1_000, 0)
	s.now = func() time.Time { return now }
	s.Set(&model.Dialog{PeerID: 1, UnreadCount: 3}, 1)
	s.Set(&model.Dialog{PeerID: 2, UnreadCount: 7, MuteUntil: 2_000}, 1)
	s.Set(&model.Dialog{PeerID: 3, UnreadMark: true}, 1)

	if got := s.TotalUnread(); got != 4 {
		t.Fatalf("TotalUnread()=%d want=4", got)
	}
}

func peersOf(list []*model.Dialog) []model.PeerID {
	out := make([]model.PeerID, len(list))
	for i, d := range list {
		out[i] = d.PeerID
	}
	return out
}

func equalPeers(a, b []model.PeerID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
