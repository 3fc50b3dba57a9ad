package ids

import (
	"testing"
	"time"

	"chatsync/cmd/internal/model"
)

func TestLocalID_Deterministic(t *testing.T) {
	t.Parallel()

	m := NewMapper()
	cases := []struct {
		server  int32
		channel int64
	}{
		{server: 1, channel: 0},
		{server: 42, channel: 0},
		{server: 42, channel: 1001},
		{server: 1<<31 - 1, channel: 7},
	}

	for _, tc := range cases {
		a := m.LocalID(tc.server, tc.channel)
		b := m.LocalID(tc.server, tc.channel)
		if a != b {
			t.Fatalf("LocalID(%d, %d) not deterministic: %d != %d", tc.server, tc.channel, a, b)
		}
		if got := ServerID(a); got != tc.server {
			t.Fatalf("ServerID(LocalID(%d, %d))=%d want=%d", tc.server, tc.channel, got, tc.server)
		}
		if got := m.ChannelOf(a); got != tc.channel {
			t.Fatalf("ChannelOf(LocalID(%d, %d))=%d want=%d", tc.server, tc.channel, got, tc.channel)
		}
		if IsTemporary(a) {
			t.Fatalf("LocalID(%d, %d)=%d reported temporary", tc.server, tc.channel, a)
		}
	}
}

func TestLocalID_ScopesNeverCollide(t *testing.T) {
	t.Parallel()

	m := NewMapper()
	seen := make(map[int64]struct{})
	for ch := int64(0); ch < 50; ch++ {
		for id := int32(1); id <= 20; id++ {
			l := m.LocalID(id, ch)
			if _, dup := seen[l]; dup {
				t.Fatalf("LocalID(%d, %d)=%d collides", id, ch, l)
			}
			seen[l] = struct{}{}
		}
	}
}

func TestLocalID_LegacySortsBelowChannels(t *testing.T) {
	t.Parallel()

	m := NewMapper()
	legacyTop := m.LocalID(1<<31-1, 0)
	channelFirst := m.FirstID(555)
	if legacyTop >= channelFirst {
		t.Fatalf("legacy top %d >= channel first %d", legacyTop, channelFirst)
	}
	if !IsLegacy(legacyTop) || IsLegacy(channelFirst) {
		t.Fatalf("IsLegacy mismatch: legacy=%v channel=%v", IsLegacy(legacyTop), IsLegacy(channelFirst))
	}
	if m.LocalID(0, 555) != 0 {
		t.Fatalf("LocalID(0, 555) want 0")
	}
}

func TestMintTemporary_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	m := NewMapper()
	peer := model.PeerID(10)
	top := m.LocalID(42, 0)

	prev := top
	for i := 0; i < 10; i++ {
		id := m.MintTemporary(peer, top)
		if id <= prev {
			t.Fatalf("MintTemporary #%d=%d want > %d", i, id, prev)
		}
		if !IsTemporary(id) {
			t.Fatalf("MintTemporary #%d=%d not temporary", i, id)
		}
		prev = id
	}

	// A lower knownTop must not move the sequence backwards.
	if id := m.MintTemporary(peer, 0); id <= prev {
		t.Fatalf("MintTemporary after lower top=%d want > %d", id, prev)
	}

	// A different peer starts from its own top.
	other := m.MintTemporary(model.PeerID(11), top)
	if other != top+1 {
		t.Fatalf("MintTemporary(other)=%d want=%d", other, top+1)
	}
}

func TestMintTemporary_FractionOverflowStaysTemporary(t *testing.T) {
	t.Parallel()

	m := NewMapper()
	top := m.LocalID(7, 0) + fractionMask
	id := m.MintTemporary(model.PeerID(3), top)
	if !IsTemporary(id) {
		t.Fatalf("MintTemporary after full fraction=%d not temporary", id)
	}
	if id <= top {
		t.Fatalf("MintTemporary=%d want > %d", id, top)
	}
}

func TestRestoreScopes(t *testing.T) {
	t.Parallel()

	a := NewMapper()
	want := a.LocalID(9, 321)
	_ = a.LocalID(9, 654)

	b := NewMapper()
	b.RestoreScopes(a.Scopes())
	if got := b.LocalID(9, 321); got != want {
		t.Fatalf("restored LocalID=%d want=%d", got, want)
	}
}

func TestNewULID(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len(NewULID())=%d want=26", len(id))
	}
	if NewRandomID() <= 0 {
		t.Fatalf("NewRandomID() not positive")
	}
}
