package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
)

type recordingMirror struct {
	mu  sync.Mutex
	ops []MirrorOp
}

func (r *recordingMirror) Enqueue(op MirrorOp) bool {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	return true
}

func (r *recordingMirror) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op.StorageKey)
	}
	return out
}

func TestKey_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Key
		want string
	}{
		{in: History(42), want: "42_history"},
		{in: Scheduled(-7), want: "-7_scheduled"},
		{in: Grouped("g1"), want: "g1_grouped"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Fatalf("Key(%+v).String()=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestStore_SetGetDeleteIdempotent(t *testing.T) {
	t.Parallel()

	m := ids.NewMapper()
	rec := &recordingMirror{}
	s := New(rec)

	peer := model.PeerID(-100)
	chID := int64(100)
	msg := &model.Message{ID: m.LocalID(5, chID), ServerID: 5, PeerID: peer}

	s.Set(History(peer), msg)
	s.Set(History(peer), msg)
	if got := s.Get(History(peer), msg.ID); got != msg {
		t.Fatalf("Get()=%v want=%v", got, msg)
	}
	if n := s.Len(History(peer)); n != 1 {
		t.Fatalf("Len()=%d want=1", n)
	}

	if got := s.Delete(History(peer), msg.ID); got != msg {
		t.Fatalf("Delete()=%v want=%v", got, msg)
	}
	if got := s.Delete(History(peer), msg.ID); got != nil {
		t.Fatalf("second Delete()=%v want=nil", got)
	}
	if s.Has(History(peer), msg.ID) {
		t.Fatalf("Has() after delete")
	}

	// two puts + one remove; the no-op delete mirrors nothing
	if got := len(rec.keys()); got != 3 {
		t.Fatalf("mirror ops=%d want=3 (%v)", got, rec.keys())
	}
}

func TestStore_LegacyMirrorAndLookup(t *testing.T) {
	t.Parallel()

	m := ids.NewMapper()
	rec := &recordingMirror{}
	s := New(rec)

	peer := model.PeerID(7)
	msg := &model.Message{ID: m.LocalID(9, 0), ServerID: 9, PeerID: peer}
	s.Set(History(peer), msg)

	keys := rec.keys()
	if len(keys) != 2 || keys[0] != "7_history" || keys[1] != LegacyKey {
		t.Fatalf("mirror keys=%v want=[7_history legacy]", keys)
	}

	if got := s.FindPeerByIDs([]int64{msg.ID}); got != peer {
		t.Fatalf("FindPeerByIDs()=%d want=%d", got, peer)
	}
	if got := s.Get(History(model.NoPeer), msg.ID); got != msg {
		t.Fatalf("legacy lookup Get()=%v want=%v", got, msg)
	}
}

func TestStore_GroupedNotMirrored(t *testing.T) {
	t.Parallel()

	m := ids.NewMapper()
	rec := &recordingMirror{}
	s := New(rec)

	peer := model.PeerID(-200)
	a := &model.Message{ID: m.LocalID(1, 200), PeerID: peer, GroupedID: "album"}
	b := &model.Message{ID: m.LocalID(2, 200), PeerID: peer, GroupedID: "album"}
	s.Set(History(peer), b)
	s.Set(History(peer), a)

	group := s.ByGroupedID("album")
	if len(group) != 2 || group[0] != a || group[1] != b {
		t.Fatalf("ByGroupedID()=%v want [a b]", group)
	}
	for _, k := range rec.keys() {
		if k == Grouped("album").String() {
			t.Fatalf("grouped storage was mirrored")
		}
	}

	s.Delete(History(peer), a.ID)
	if group := s.ByGroupedID("album"); len(group) != 1 {
		t.Fatalf("ByGroupedID() after delete=%d want=1", len(group))
	}
}

func TestMirror_AppliesToReadModel(t *testing.T) {
	t.Parallel()

	rm := NewMemoryReadModel()
	mir := NewMirror(nil, rm, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mir.Run(ctx) }()

	s := New(mir)
	peer := model.PeerID(3)
	msg := &model.Message{ID: 4096, ServerID: 1, PeerID: peer, Text: "hi"}
	s.Set(History(peer), msg)
	msg.Text = "edited"
	s.Touch(History(peer), msg.ID)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := mir.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got, err := rm.Get(ctx, History(peer).String(), msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "edited" {
		t.Fatalf("mirrored text=%q want=%q", got.Text, "edited")
	}

	s.Delete(History(peer), msg.ID)
	if err := mir.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, err := rm.Get(ctx, History(peer).String(), msg.ID); err != ErrNotFound {
		t.Fatalf("Get after delete err=%v want=%v", err, ErrNotFound)
	}
}

func TestMirror_DropsWhenFull(t *testing.T) {
	t.Parallel()

	mir := NewMirror(nil, NewMemoryReadModel(), 1, nil)
	if !mir.Enqueue(MirrorOp{StorageKey: "1_history", ID: 1, Message: &model.Message{ID: 1}}) {
		t.Fatalf("first Enqueue dropped")
	}
	if mir.Enqueue(MirrorOp{StorageKey: "1_history", ID: 2, Message: &model.Message{ID: 2}}) {
		t.Fatalf("Enqueue into full queue accepted")
	}
}
