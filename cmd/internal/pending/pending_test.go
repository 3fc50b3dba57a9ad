package pending

import (
	"errors"
	"testing"

	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/store"
)

func newRecord(rid, temp int64) *Record {
	return &Record{RandomID: rid, Peer: 7, TempID: temp, Storage: store.History(7), Sequential: true}
}

func TestTracker_ConfirmLifecycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	r := newRecord(100, 4097)
	if err := tr.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tr.Add(newRecord(100, 4098)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Add(duplicate)=%v want=%v", err, ErrDuplicate)
	}
	if err := tr.MarkSent(100, "call-1"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	var got *model.Message
	tr.After(4097, func(m *model.Message) { got = m })

	if !tr.Bind(100, 42<<12) {
		t.Fatalf("Bind(known)=false")
	}
	if tr.Bind(999, 1) {
		t.Fatalf("Bind(unknown)=true")
	}
	if rec := tr.ByMessageID(42 << 12); rec != r {
		t.Fatalf("ByMessageID=%v want=%v", rec, r)
	}

	fin, cbs := tr.Finalize(100)
	if fin != r || fin.State != Confirmed {
		t.Fatalf("Finalize=%+v want confirmed record", fin)
	}
	if len(cbs) != 1 {
		t.Fatalf("callbacks=%d want=1", len(cbs))
	}
	cbs[0](&model.Message{ID: 42 << 12})
	if got == nil || got.ID != 42<<12 {
		t.Fatalf("callback got=%v", got)
	}
	if tr.Len() != 0 || tr.ByMessageID(42<<12) != nil {
		t.Fatalf("record survived finalization")
	}
	if again, _ := tr.Finalize(100); again != nil {
		t.Fatalf("second Finalize=%v want=nil", again)
	}
}

func TestTracker_FailAndRetry(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	_ = tr.Add(newRecord(1, 4097))
	boom := errors.New("boom")

	tr.After(4097, func(final *model.Message) {
		if final != nil {
			t.Fatalf("failed send resolved with %+v", final)
		}
	})

	r, waiting := tr.Fail(1, boom)
	if len(waiting) != 1 {
		t.Fatalf("Fail returned %d callbacks want=1", len(waiting))
	}
	waiting[0](nil)
	if r == nil || r.State != Failed || !errors.Is(r.Err, boom) {
		t.Fatalf("Fail=%+v", r)
	}
	if tr.Len() != 0 {
		t.Fatalf("Len()=%d want=0 after failure", tr.Len())
	}
	if tr.Failed(4097) != r {
		t.Fatalf("failed record not parked")
	}

	retry := tr.TakeFailed(4097)
	if retry != r {
		t.Fatalf("TakeFailed=%v want=%v", retry, r)
	}
	if err := tr.Add(retry); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	if retry.State != Composing {
		t.Fatalf("state=%s want=composing", retry.State)
	}
}

func TestTracker_Cancel(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	_ = tr.Add(newRecord(1, 4097))
	tr.After(4097, func(*model.Message) {})

	r, waiting := tr.Cancel(1)
	if r == nil || r.State != Cancelled {
		t.Fatalf("Cancel=%+v", r)
	}
	if len(waiting) != 1 {
		t.Fatalf("Cancel returned %d callbacks want=1", len(waiting))
	}
	if again, _ := tr.Cancel(1); again != nil {
		t.Fatalf("second Cancel returned a record")
	}

	_ = tr.Add(newRecord(2, 4098))
	tr.Fail(2, errors.New("x"))
	if r, _ := tr.Cancel(2); r == nil || tr.Failed(4098) != nil {
		t.Fatalf("Cancel of a failed send must drop it")
	}
}

func TestTracker_LastSequential(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	a, b, c := newRecord(1, 4097), newRecord(2, 4098), newRecord(3, 4099)
	c.Sequential = false
	for _, r := range []*Record{a, b, c} {
		_ = tr.Add(r)
	}
	if tr.LastSequential(7) != nil {
		t.Fatalf("records without a call id must not be chained")
	}
	_ = tr.MarkSent(1, "a")
	_ = tr.MarkSent(2, "b")
	_ = tr.MarkSent(3, "c")

	if got := tr.LastSequential(7); got != b {
		t.Fatalf("LastSequential=%v want=%v", got, b)
	}
	if got := tr.Pending(7); len(got) != 3 || got[0] != a {
		t.Fatalf("Pending=%v", got)
	}
	if tr.ByTempID(7, 4099) != c {
		t.Fatalf("ByTempID mismatch")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	cases := map[State]string{
		Composing: "composing",
		Sent:      "sent",
		Confirmed: "confirmed",
		Failed:    "failed",
		Cancelled: "cancelled",
		State(9):  "state(9)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("String(%d)=%q want=%q", uint8(s), got, want)
		}
	}
}
