package peers

import (
	"testing"

	"chatsync/cmd/internal/model"
	v1 "chatsync/shared/contracts/sync/v1"
)

func TestDirectory_ObserveAndMigration(t *testing.T) {
	t.Parallel()

	d := NewDirectory(model.PeerID(1))
	d.Observe(
		v1.Chat{PeerID: -10, Kind: "chat", MigratedTo: -20},
		v1.Chat{PeerID: -20, Kind: "channel", MigratedFrom: -10},
		v1.Chat{PeerID: -30, Kind: "broadcast", Left: true, Username: "news"},
	)

	cases := []struct {
		peer    model.PeerID
		channel bool
		chanID  int64
		inChat  bool
		canView bool
	}{
		{peer: 5, channel: false, chanID: 0, inChat: true, canView: true},
		{peer: -10, channel: false, chanID: 0, inChat: false, canView: true},
		{peer: -20, channel: true, chanID: 20, inChat: true, canView: true},
		{peer: -30, channel: true, chanID: 30, inChat: false, canView: true},
	}
	for _, tc := range cases {
		if got := d.IsChannel(tc.peer); got != tc.channel {
			t.Fatalf("IsChannel(%d)=%v want=%v", tc.peer, got, tc.channel)
		}
		if got := d.ChannelID(tc.peer); got != tc.chanID {
			t.Fatalf("ChannelID(%d)=%d want=%d", tc.peer, got, tc.chanID)
		}
		if got := d.IsInChat(tc.peer); got != tc.inChat {
			t.Fatalf("IsInChat(%d)=%v want=%v", tc.peer, got, tc.inChat)
		}
		if got := d.CanViewHistory(tc.peer); got != tc.canView {
			t.Fatalf("CanViewHistory(%d)=%v want=%v", tc.peer, got, tc.canView)
		}
	}

	if m := d.Migration(-20); m.Prev != -10 || m.Next != 0 {
		t.Fatalf("Migration(-20)=%+v want prev=-10", m)
	}
	if m := d.Migration(-10); m.Next != -20 {
		t.Fatalf("Migration(-10)=%+v want next=-20", m)
	}
}

func TestDirectory_ForbiddenChannel(t *testing.T) {
	t.Parallel()

	d := NewDirectory(1)
	d.Observe(v1.Chat{PeerID: -40, Kind: "channel", Forbidden: true})
	if d.CanViewHistory(-40) {
		t.Fatalf("CanViewHistory(forbidden) want false")
	}
	if d.IsInChat(-40) {
		t.Fatalf("IsInChat(forbidden) want false")
	}
}
