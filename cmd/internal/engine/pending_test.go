package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/transport"

	"github.com/stretchr/testify/require"
)

func TestCancelPending_RemovesFailedMessage(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	f.rpc.handle(v1.MethodSendMessage, func(transport.Call) (any, error) {
		return nil, &transport.RPCError{Code: 400, Type: "PEER_FLOOD"}
	})
	msg, err := f.m.SendText(context.Background(), peer, "hello", SendOptions{})
	require.Error(t, err)
	require.True(t, ids.IsTemporary(msg.ID))
	f.events.reset()

	require.NoError(t, f.m.CancelPending(msg.RandomID))

	deleted := f.events.named("history_delete")
	require.Len(t, deleted, 1)
	require.Equal(t, peer, deleted[0].(notify.HistoryDelete).Peer)
	require.Equal(t, []int64{msg.ID}, deleted[0].(notify.HistoryDelete).IDs)
	require.NotEmpty(t, f.events.named("messages_pending"))

	_, err = f.m.GetMessage(peer, msg.ID)
	require.ErrorIs(t, err, ErrNotFound)

	res, err := f.m.GetHistory(context.Background(), HistoryQuery{Peer: peer, Limit: 10})
	require.NoError(t, err)
	require.NotContains(t, res.IDs, msg.ID)

	require.ErrorIs(t, f.m.CancelPending(msg.RandomID), ErrNotFound)
}

func TestEdit_SendFailureReleasesWaiter(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	started := make(chan int64, 1)
	release := make(chan struct{})
	f.rpc.handle(v1.MethodSendMessage, func(call transport.Call) (any, error) {
		req := call.Params.(v1.SendMessageRequest)
		f.m.mu.Lock()
		temp := f.m.pending.Get(req.RandomID).TempID
		f.m.mu.Unlock()

		started <- temp
		<-release
		return nil, &transport.RPCError{Code: 400, Type: "PEER_ID_INVALID"}
	})

	sent := make(chan error, 1)
	go func() {
		_, err := f.m.SendText(context.Background(), peer, "hello", SendOptions{})
		sent <- err
	}()
	temp := <-started

	edited := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		edited <- f.m.Edit(ctx, peer, temp, "edited", EditOptions{})
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.Error(t, <-sent)
	select {
	case err := <-edited:
		require.Error(t, err)
		require.NotErrorIs(t, err, context.DeadlineExceeded)
		require.True(t, transport.IsType(err, "PEER_ID_INVALID") || errors.Is(err, ErrNotFound), "err=%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("edit still waiting after the send failed")
	}
	require.Zero(t, f.rpc.count(v1.MethodEditMessage))
}

func TestEdit_CancelledSendReleasesWaiter(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	started := make(chan int64, 1)
	release := make(chan struct{})
	f.rpc.handle(v1.MethodSendMessage, func(call transport.Call) (any, error) {
		req := call.Params.(v1.SendMessageRequest)
		started <- req.RandomID
		<-release
		return v1.UpdatesPayload{}, nil
	})

	go func() { _, _ = f.m.SendText(context.Background(), peer, "hello", SendOptions{}) }()
	randomID := <-started

	f.m.mu.Lock()
	temp := f.m.pending.Get(randomID).TempID
	f.m.mu.Unlock()

	edited := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		edited <- f.m.Edit(ctx, peer, temp, "edited", EditOptions{})
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, f.m.CancelPending(randomID))
	close(release)

	select {
	case err := <-edited:
		require.ErrorIs(t, err, ErrNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("edit still waiting after the send was cancelled")
	}
}

func TestPinnedMessages_FetchTrackedByWait(t *testing.T) {
	f := newTestManager(t)
	const peer = model.PeerID(7)

	started := make(chan struct{})
	release := make(chan struct{})
	f.rpc.handle(v1.MethodGetMessages, func(call transport.Call) (any, error) {
		req := call.Params.(v1.GetMessagesRequest)
		close(started)
		<-release
		out := v1.MessagesResponse{}
		for _, id := range req.IDs {
			out.Messages = append(out.Messages, inbound(req.PeerID, id, false))
		}
		return out, nil
	})

	f.m.Apply(v1.UpdatesPayload{Updates: []v1.UpdateFrame{
		frame(t, v1.UpdatePinnedMessages, 0, v1.PinnedMessagesData{PeerID: int64(peer), Messages: []int32{42}, Pinned: true}),
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.m.WaitReloads(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, f.m.WaitReloads(context.Background()))

	msg, err := f.m.GetMessage(peer, f.local(42))
	require.NoError(t, err)
	require.Equal(t, f.local(42), msg.ID)
	require.Len(t, f.events.named("message_pinned"), 1)
}
