package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/media"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/peers"
	"chatsync/cmd/internal/state"
	"chatsync/cmd/internal/store"
	"chatsync/cmd/internal/transport"

	"github.com/stretchr/testify/require"
)

const self = model.PeerID(1)

var testNow = time.Unix(1_700_000_000, 0)

type handler func(call transport.Call) (any, error)

// fakeRPC answers calls from per-method handlers. Results go through a JSON round trip like they
// would on the wire.
type fakeRPC struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string]int
	cleared  []string
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{handlers: make(map[string]handler), calls: make(map[string]int)}
}

func (f *fakeRPC) handle(method string, h handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeRPC) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRPC) Invoke(ctx context.Context, method string, params, out any) error {
	return f.InvokeCall(ctx, transport.Call{Method: method, Params: params}, out)
}

func (f *fakeRPC) InvokeCall(_ context.Context, call transport.Call, out any) error {
	f.mu.Lock()
	f.calls[call.Method]++
	h := f.handlers[call.Method]
	f.mu.Unlock()

	if h == nil {
		return nil
	}
	res, err := h(call)
	if err != nil {
		return err
	}
	if out == nil || res == nil {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeRPC) InvokeCached(ctx context.Context, method string, params, out any, _ time.Duration) error {
	return f.Invoke(ctx, method, params, out)
}

func (f *fakeRPC) ClearCache(method string, _ func(json.RawMessage) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, method)
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) handle(e notify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func (l *eventLog) named(name string) []notify.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []notify.Event
	for _, e := range l.events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	m      *Manager
	rpc    *fakeRPC
	dir    *peers.Directory
	events *eventLog
}

func newTestManager(t *testing.T) fixture {
	t.Helper()

	rpc := newFakeRPC()
	dir := peers.NewDirectory(self)
	m, err := New(Config{
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		RPC:   rpc,
		Peers: dir,
		Media: media.NewRegistry(),
		State: state.NewMemoryStore(),
		Now:   func() time.Time { return testNow },
	})
	require.NoError(t, err)

	events := &eventLog{}
	m.Subscribe(events.handle)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return fixture{m: m, rpc: rpc, dir: dir, events: events}
}

// seed applies a dialogs answer as if a reload had returned it.
func (f fixture) seed(out v1.PeerDialogsResponse) {
	f.m.mu.Lock()
	defer f.m.unlock()
	f.m.applyDialogs(out)
}

func (f fixture) local(id int32) int64 { return f.m.ids.LocalID(id, 0) }

func frame(t *testing.T, kind string, channelID int64, data any) v1.UpdateFrame {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return v1.UpdateFrame{Kind: kind, ChannelID: channelID, Data: b}
}

func inbound(peer int64, id int32, unread bool) v1.Message {
	return v1.Message{ID: id, PeerID: peer, FromID: peer, Date: testNow.Unix() - int64(100-id), Text: "m", Unread: unread}
}

func ptr[T any](v T) *T { return &v }

func TestSendText_ConfirmKeepsOptimisticObject(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	var temp *model.Message
	f.rpc.handle(v1.MethodSendMessage, func(call transport.Call) (any, error) {
		req := call.Params.(v1.SendMessageRequest)

		f.m.mu.Lock()
		rec := f.m.pending.Get(req.RandomID)
		require.NotNil(t, rec)
		temp = f.m.store.Get(store.History(peer), rec.TempID)
		f.m.mu.Unlock()

		return v1.UpdatesPayload{Updates: []v1.UpdateFrame{
			frame(t, v1.UpdateMessageID, 0, v1.MessageIDData{ID: 100, RandomID: req.RandomID}),
			frame(t, v1.UpdateNewMessage, 0, v1.MessageData{Message: v1.Message{
				ID: 100, PeerID: int64(peer), FromID: int64(self), Date: testNow.Unix(), Text: "hello", Out: true,
			}}),
		}}, nil
	})

	msg, err := f.m.SendText(context.Background(), peer, "hello", SendOptions{})
	require.NoError(t, err)
	require.NotNil(t, temp)

	final := f.local(100)
	require.Equal(t, final, msg.ID)
	require.False(t, msg.Flags.Has(model.FlagPending))
	require.Zero(t, f.m.pending.Len())

	f.m.mu.Lock()
	stored := f.m.store.Get(store.History(peer), final)
	f.m.mu.Unlock()
	require.Same(t, temp, stored)

	d, err := f.m.GetDialog(peer)
	require.NoError(t, err)
	require.Equal(t, final, d.TopMessage)

	sent := f.events.named("message_sent")
	require.Len(t, sent, 1)
	require.Equal(t, final, sent[0].(notify.MessageSent).ID)
	require.True(t, ids.IsTemporary(sent[0].(notify.MessageSent).TempID))

	res, err := f.m.GetHistory(context.Background(), HistoryQuery{Peer: peer, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{final}, res.IDs)
}

func TestSendText_FailureKeepsMessageForRetry(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	f.rpc.handle(v1.MethodSendMessage, func(transport.Call) (any, error) {
		return nil, &transport.RPCError{Code: 400, Type: "PEER_FLOOD"}
	})

	msg, err := f.m.SendText(context.Background(), peer, "hello", SendOptions{})
	require.Error(t, err)
	require.True(t, msg.Flags.Has(model.FlagError))
	require.False(t, msg.Flags.Has(model.FlagPending))
	require.Len(t, f.events.named("message_error"), 1)

	f.rpc.handle(v1.MethodSendMessage, func(call transport.Call) (any, error) {
		req := call.Params.(v1.SendMessageRequest)
		return v1.UpdatesPayload{Updates: []v1.UpdateFrame{
			frame(t, v1.UpdateMessageID, 0, v1.MessageIDData{ID: 5, RandomID: req.RandomID}),
			frame(t, v1.UpdateNewMessage, 0, v1.MessageData{Message: v1.Message{
				ID: 5, PeerID: int64(peer), FromID: int64(self), Date: testNow.Unix(), Text: "hello", Out: true,
			}}),
		}}, nil
	})

	retried, err := f.m.RetrySend(context.Background(), peer, msg.ID)
	require.NoError(t, err)
	require.Equal(t, f.local(5), retried.ID)
	require.Equal(t, 2, f.rpc.count(v1.MethodSendMessage))
}

func TestSendText_TemporaryIDAboveTop(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	f.seed(v1.PeerDialogsResponse{
		Dialogs:  []v1.Dialog{{PeerID: int64(peer), TopMessage: 20, ReadInboxMaxID: 20}},
		Messages: []v1.Message{inbound(int64(peer), 20, false)},
	})

	first, err := f.m.SendText(context.Background(), peer, "one", SendOptions{})
	require.NoError(t, err)
	second, err := f.m.SendText(context.Background(), peer, "two", SendOptions{})
	require.NoError(t, err)

	require.True(t, ids.IsTemporary(first.ID))
	require.Greater(t, first.ID, f.local(20))
	require.Greater(t, second.ID, first.ID)
	require.True(t, second.Flags.Has(model.FlagPending))

	d, err := f.m.GetDialog(peer)
	require.NoError(t, err)
	require.Equal(t, second.ID, d.TopMessage)
	require.Equal(t, 2, f.m.pending.Len())
}

func TestGetHistory_EmptyThenCached(t *testing.T) {
	f := newTestManager(t)
	ctx := context.Background()

	f.rpc.handle(v1.MethodGetHistory, func(call transport.Call) (any, error) {
		req := call.Params.(v1.GetHistoryRequest)
		if req.PeerID == 7 {
			return v1.MessagesResponse{Count: ptr[int32](0)}, nil
		}
		out := v1.MessagesResponse{Count: ptr[int32](15)}
		for id := int32(15); id >= 1; id-- {
			out.Messages = append(out.Messages, inbound(req.PeerID, id, false))
		}
		return out, nil
	})

	for range 2 {
		res, err := f.m.GetHistory(ctx, HistoryQuery{Peer: 7, Limit: 20})
		require.NoError(t, err)
		require.Empty(t, res.IDs)
		require.Zero(t, res.Count)
		require.Equal(t, history.EndBoth, res.End)
	}
	require.Equal(t, 1, f.rpc.count(v1.MethodGetHistory))

	for range 2 {
		res, err := f.m.GetHistory(ctx, HistoryQuery{Peer: 8, Limit: 20})
		require.NoError(t, err)
		require.Len(t, res.IDs, 15)
		require.Len(t, res.Messages, 15)
		require.Equal(t, int32(15), res.Count)
		require.Equal(t, f.local(15), res.IDs[0])
		require.Equal(t, f.local(1), res.IDs[14])
		require.Equal(t, history.EndBoth, res.End)
	}
	require.Equal(t, 2, f.rpc.count(v1.MethodGetHistory))
}

func TestDeleteMessages_UnknownIDReloadsOnce(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	f.seed(v1.PeerDialogsResponse{
		Dialogs: []v1.Dialog{{PeerID: int64(peer), TopMessage: 10, ReadInboxMaxID: 8, UnreadCount: 2}},
		Messages: []v1.Message{
			inbound(int64(peer), 9, true),
			inbound(int64(peer), 10, true),
		},
	})
	f.rpc.handle(v1.MethodGetPeerDialogs, func(transport.Call) (any, error) {
		return v1.PeerDialogsResponse{
			Dialogs:  []v1.Dialog{{PeerID: int64(peer), TopMessage: 9, ReadInboxMaxID: 8, UnreadCount: 1}},
			Messages: []v1.Message{inbound(int64(peer), 9, true)},
		}, nil
	})

	f.m.Apply(v1.UpdatesPayload{Updates: []v1.UpdateFrame{
		frame(t, v1.UpdateDeleteMessages, 0, v1.DeleteMessagesData{Messages: []int32{10, 11}}),
	}})
	require.NoError(t, f.m.WaitReloads(context.Background()))

	require.Equal(t, 1, f.rpc.count(v1.MethodGetPeerDialogs))
	d, err := f.m.GetDialog(peer)
	require.NoError(t, err)
	require.Equal(t, int32(1), d.UnreadCount)
	require.Equal(t, f.local(9), d.TopMessage)

	_, err = f.m.GetMessage(peer, f.local(10))
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, f.rpc.cleared, v1.MethodGetSearchCounters)
}

func TestDeleteMessages_AlbumEditOncePerAlbum(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	var msgs []v1.Message
	for id := int32(1); id <= 3; id++ {
		raw := inbound(int64(peer), id, false)
		raw.GroupedID = "g1"
		raw.Media = &v1.Media{Kind: "photo", ID: "p" + string(rune('0'+id))}
		msgs = append(msgs, raw)
	}
	f.seed(v1.PeerDialogsResponse{
		Dialogs:  []v1.Dialog{{PeerID: int64(peer), TopMessage: 3, ReadInboxMaxID: 3}},
		Messages: msgs,
	})

	f.m.Apply(v1.UpdatesPayload{Updates: []v1.UpdateFrame{
		frame(t, v1.UpdateDeleteMessages, 0, v1.DeleteMessagesData{Messages: []int32{1, 2}}),
	}})

	edits := f.events.named("album_edit")
	require.Len(t, edits, 1)
	edit := edits[0].(notify.AlbumEdit)
	require.Equal(t, "g1", edit.GroupedID)
	require.Equal(t, []int64{f.local(3)}, edit.IDs)
	require.ElementsMatch(t, []int64{f.local(1), f.local(2)}, edit.Deleted)
}

func TestReadHistory_PartialRead(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	var msgs []v1.Message
	for id := int32(1); id <= 10; id++ {
		msgs = append(msgs, inbound(int64(peer), id, id > 5))
	}
	f.seed(v1.PeerDialogsResponse{
		Dialogs:  []v1.Dialog{{PeerID: int64(peer), TopMessage: 10, ReadInboxMaxID: 5, UnreadCount: 5}},
		Messages: msgs,
	})

	f.m.Apply(v1.UpdatesPayload{Updates: []v1.UpdateFrame{
		frame(t, v1.UpdateReadHistoryInbox, 0, v1.ReadHistoryData{PeerID: int64(peer), MaxID: 8}),
	}})

	d, err := f.m.GetDialog(peer)
	require.NoError(t, err)
	require.Equal(t, int32(2), d.UnreadCount)
	require.Equal(t, f.local(8), d.ReadInboxMaxID)

	for id := int32(6); id <= 10; id++ {
		msg, err := f.m.GetMessage(peer, f.local(id))
		require.NoError(t, err)
		require.Equal(t, id > 8, msg.IsUnread(), "message %d", id)
	}
	require.Len(t, f.events.named("messages_read"), 1)
	require.Zero(t, f.rpc.count(v1.MethodGetPeerDialogs))
}

func TestApply_GapResetsPeer(t *testing.T) {
	f := newTestManager(t)
	const channel = int64(500)
	peer := model.PeerID(-channel)

	f.dir.Observe(v1.Chat{PeerID: int64(peer), Kind: "channel"})
	f.m.mu.Lock()
	f.m.seq.Set(channel, 10)
	f.m.mu.Unlock()

	gapped := frame(t, v1.UpdateNewChannelMessage, channel, v1.MessageData{Message: v1.Message{
		ID: 40, PeerID: int64(peer), Date: testNow.Unix(), Text: "late",
	}})
	gapped.Pts, gapped.PtsCount = 15, 1
	f.m.Apply(v1.UpdatesPayload{Updates: []v1.UpdateFrame{gapped}})
	require.NoError(t, f.m.WaitReloads(context.Background()))

	reloads := f.events.named("history_reload")
	require.Len(t, reloads, 1)
	require.Equal(t, peer, reloads[0].(notify.HistoryReload).Peer)
	require.Equal(t, 1, f.rpc.count(v1.MethodGetPeerDialogs))

	_, err := f.m.GetMessage(peer, f.m.ids.LocalID(40, channel))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApply_NewMessageQueuedUntilDialogLoads(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(9)

	f.rpc.handle(v1.MethodGetPeerDialogs, func(call transport.Call) (any, error) {
		return v1.PeerDialogsResponse{
			Dialogs:  []v1.Dialog{{PeerID: int64(peer), TopMessage: 19, ReadInboxMaxID: 19}},
			Messages: []v1.Message{inbound(int64(peer), 19, false)},
		}, nil
	})

	f.m.Apply(v1.UpdatesPayload{Updates: []v1.UpdateFrame{
		frame(t, v1.UpdateNewMessage, 0, v1.MessageData{Message: inbound(int64(peer), 20, true)}),
	}})
	require.NoError(t, f.m.WaitReloads(context.Background()))

	d, err := f.m.GetDialog(peer)
	require.NoError(t, err)
	require.Equal(t, f.local(20), d.TopMessage)
	require.Equal(t, int32(1), d.UnreadCount)

	msg, err := f.m.GetMessage(peer, f.local(20))
	require.NoError(t, err)
	require.True(t, msg.IsUnread())
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"short"}, splitText("  short  ", 10))

	parts := splitText("first line\nsecond line", 15)
	require.Equal(t, []string{"first line", "second line"}, parts)

	parts = splitText(strings.Repeat("a", 25), 10)
	require.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, parts)

	parts = splitText("alpha beta gamma", 11)
	require.Equal(t, []string{"alpha beta", "gamma"}, parts)
}

func TestReloadLimiter(t *testing.T) {
	t.Parallel()

	l := newReloadLimiter(2, time.Second)
	now := testNow
	require.True(t, l.Allow(7, now))
	require.True(t, l.Allow(7, now))
	require.False(t, l.Allow(7, now))
	require.True(t, l.Allow(8, now))
	require.True(t, l.Allow(7, now.Add(2*time.Second)))
}
