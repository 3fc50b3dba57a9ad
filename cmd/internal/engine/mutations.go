package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/store"
	"chatsync/cmd/internal/transport"
	"chatsync/cmd/internal/updates"
)

// EditOptions tune an edit.
type EditOptions struct {
	NoWebpage    bool
	ScheduleDate int64
}

// PinOptions tune a pin.
type PinOptions struct {
	Silent bool
	// PmOneside pins a private-chat message for this account only.
	PmOneside bool
}

// Edit replaces the text of a message. Editing a message that is still being sent waits for its
// confirmation. A rejection saying nothing changed is not an error.
func (m *Manager) Edit(ctx context.Context, peer model.PeerID, id int64, text string, opts EditOptions) error {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}

	msg := m.message(peer, id)
	if msg == nil {
		msg = m.store.Get(store.Scheduled(peer), id)
	}
	if msg == nil {
		return opErr("engine.Edit", ErrNotFound, "message %d in %d", id, peer)
	}
	if strings.TrimSpace(text) == "" && msg.Media == nil {
		return opErr("engine.Edit", ErrEmptyMessage, "")
	}

	if ids.IsTemporary(id) {
		if m.pending.ByTempID(peer, id) == nil {
			return opErr("engine.Edit", ErrNotFound, "message %d was not sent", id)
		}
		done := make(chan *model.Message, 1)
		m.pending.After(id, func(final *model.Message) { done <- final })

		m.suspend()
		var final *model.Message
		select {
		case final = <-done:
		case <-ctx.Done():
		}
		m.resume()
		if final == nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			if rec := m.pending.Failed(id); rec != nil {
				return fmt.Errorf("engine.Edit: message %d was not sent: %w", id, rec.Err)
			}
			return opErr("engine.Edit", ErrNotFound, "send of message %d was cancelled", id)
		}
		if m.closed {
			return ErrClosed
		}
		id = final.ID
	}

	req := v1.EditMessageRequest{
		PeerID:       int64(peer),
		ID:           ids.ServerID(id),
		Message:      text,
		NoWebpage:    opts.NoWebpage,
		ScheduleDate: opts.ScheduleDate,
	}
	var out v1.UpdatesPayload
	if err := m.invoke(ctx, v1.MethodEditMessage, req, &out); err != nil {
		if transport.IsType(err, transport.TypeMessageNotModified) || transport.IsType(err, transport.TypeMessageEmpty) {
			if e, ok := transport.AsRPCError(err); ok {
				e.Handled = true
			}
			m.log.Debug("engine.edit.unchanged", "peer_id", peer, "id", id)
			return nil
		}
		return fmt.Errorf("engine.Edit: %w", err)
	}
	if m.closed {
		return ErrClosed
	}
	m.applyPayload(out)
	return nil
}

// Delete deletes messages. Temporary ids cancel their sends; server ids are deleted in chunks, per
// id scope.
func (m *Manager) Delete(ctx context.Context, peer model.PeerID, list []int64, revoke bool) error {
	if peer == model.NoPeer || len(list) == 0 {
		return opErr("engine.Delete", ErrInvalidInput, "peer and ids are required")
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}

	byChannel := make(map[int64][]int64)
	for _, id := range list {
		if ids.IsTemporary(id) {
			rec := m.pending.ByTempID(peer, id)
			if rec == nil {
				rec = m.pending.Failed(id)
			}
			if rec == nil {
				continue
			}
			if cancelled, waiting := m.pending.Cancel(rec.RandomID); cancelled != nil {
				m.dropPending(cancelled, waiting)
			}
			continue
		}
		ch := m.ids.ChannelOf(id)
		byChannel[ch] = append(byChannel[ch], id)
	}

	channels := make([]int64, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	for _, ch := range channels {
		target := peer
		if ch != 0 {
			target = model.PeerID(-ch)
		} else if prev := m.peers.Migration(peer).Prev; prev != model.NoPeer && m.peers.IsChannel(peer) {
			target = prev
		}

		all := byChannel[ch]
		for start := 0; start < len(all); start += deleteChunk {
			chunk := all[start:min(start+deleteChunk, len(all))]
			req := v1.DeleteMessagesRequest{IDs: make([]int32, len(chunk)), Revoke: revoke}
			for i, id := range chunk {
				req.IDs[i] = ids.ServerID(id)
			}
			if ch != 0 {
				req.ChannelID = ch
			} else {
				req.PeerID = int64(target)
			}

			var out v1.AffectedMessages
			if err := m.invoke(ctx, v1.MethodDeleteMessages, req, &out); err != nil {
				return fmt.Errorf("engine.Delete: %w", err)
			}
			if m.closed {
				return ErrClosed
			}
			m.onDeleteMessages(updates.DeleteMessages{PeerID: target, IDs: chunk})
			m.ackPts(ch, out.Pts, out.PtsCount, target)
		}
	}
	return nil
}

// ackPts records the pts a mutation's answer moved the box to, so the same change arriving later as
// an update is dropped as a duplicate.
func (m *Manager) ackPts(channelID int64, pts, count int32, peer model.PeerID) {
	if m.seq.Check(channelID, pts, count) == updates.Gap {
		m.met.Gap()
		m.log.Info("updates.seq.gap", "channel_id", channelID, "pts", pts, "peer_id", peer)
		m.resetPeer(peer)
	}
}

// MarkRead acknowledges reading peer (or a thread of it) up to maxID; 0 means the newest message.
func (m *Manager) MarkRead(ctx context.Context, peer model.PeerID, thread, maxID int64) error {
	if peer == model.NoPeer {
		return opErr("engine.MarkRead", ErrInvalidInput, "peer is required")
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}

	st := m.histories.Get(peer, thread)
	if maxID == 0 {
		maxID = st.MaxID
	}
	if maxID == 0 {
		return nil
	}
	d := m.dialogs.Get(peer)
	marked := thread == 0 && d != nil && d.UnreadMark
	unread := thread == 0 && d != nil && d.UnreadCount > 0
	if m.readMaxIDIfUnread(peer, thread) == 0 && !unread && !marked {
		return nil
	}
	if st.TriedToReadMaxID >= maxID && !marked {
		return nil
	}
	st.TriedToReadMaxID = maxID

	if marked {
		m.onDialogUnreadMark(updates.DialogUnreadMark{PeerID: peer})
	}
	m.onReadHistory(updates.ReadHistory{PeerID: peer, MaxID: maxID, ThreadID: thread})

	req := v1.ReadHistoryRequest{PeerID: int64(peer), MaxID: ids.ServerID(maxID), TopMsgID: ids.ServerID(thread)}
	var out v1.AffectedMessages
	if err := m.invoke(ctx, v1.MethodReadHistory, req, &out); err != nil {
		return fmt.Errorf("engine.MarkRead: %w", err)
	}
	if ch := m.peers.ChannelID(peer); ch == 0 && thread == 0 {
		m.ackPts(0, out.Pts, out.PtsCount, peer)
	}
	return nil
}

// Pin pins a message.
func (m *Manager) Pin(ctx context.Context, peer model.PeerID, id int64, opts PinOptions) error {
	return m.updatePinned(ctx, peer, id, false, opts)
}

// Unpin unpins a message.
func (m *Manager) Unpin(ctx context.Context, peer model.PeerID, id int64) error {
	return m.updatePinned(ctx, peer, id, true, PinOptions{})
}

func (m *Manager) updatePinned(ctx context.Context, peer model.PeerID, id int64, unpin bool, opts PinOptions) error {
	if peer == model.NoPeer || id == 0 || ids.IsTemporary(id) {
		return opErr("engine.Pin", ErrInvalidInput, "a sent message is required")
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}

	req := v1.UpdatePinnedRequest{
		PeerID:    int64(peer),
		ID:        ids.ServerID(id),
		Unpin:     unpin,
		Silent:    opts.Silent,
		PmOneside: opts.PmOneside,
	}
	var out v1.UpdatesPayload
	if err := m.invoke(ctx, v1.MethodUpdatePinned, req, &out); err != nil {
		return fmt.Errorf("engine.Pin: %w", err)
	}
	if m.closed {
		return ErrClosed
	}
	if len(out.Updates) == 0 {
		m.onPinnedMessages(updates.PinnedMessages{PeerID: peer, IDs: []int64{id}, Pinned: !unpin})
		return nil
	}
	m.applyPayload(out)
	return nil
}

// Mute silences peer until the unix time until; 0 unmutes.
func (m *Manager) Mute(ctx context.Context, peer model.PeerID, until int64) error {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.invoke(ctx, v1.MethodUpdateNotify, v1.UpdateNotifyRequest{PeerID: int64(peer), MuteUntil: until}, nil); err != nil {
		return fmt.Errorf("engine.Mute: %w", err)
	}
	m.onNotifySettings(updates.NotifySettings{PeerID: peer, MuteUntil: until})
	return nil
}

// PinDialog pins or unpins peer in the dialog list.
func (m *Manager) PinDialog(ctx context.Context, peer model.PeerID, pinned bool) error {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.invoke(ctx, v1.MethodToggleDialogPin, v1.ToggleDialogPinRequest{PeerID: int64(peer), Pinned: pinned}, nil); err != nil {
		return fmt.Errorf("engine.PinDialog: %w", err)
	}
	m.onDialogPinned(updates.DialogPinned{PeerID: peer, Pinned: pinned})
	return nil
}

// SaveDraft stores a draft for peer; empty text clears it.
func (m *Manager) SaveDraft(ctx context.Context, peer model.PeerID, text string, replyTo int64) error {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	req := v1.SaveDraftRequest{PeerID: int64(peer), Message: text, ReplyToMsgID: ids.ServerID(replyTo)}
	if err := m.invoke(ctx, v1.MethodSaveDraft, req, nil); err != nil {
		return fmt.Errorf("engine.SaveDraft: %w", err)
	}

	var draft *model.Draft
	if strings.TrimSpace(text) != "" {
		draft = &model.Draft{Text: text, ReplyTo: replyTo, Date: m.now().Unix()}
	}
	m.onDraft(updates.DraftMessage{PeerID: peer, Draft: draft})
	return nil
}

// FlushHistory deletes the history of peer. justClear keeps the dialog in the list.
func (m *Manager) FlushHistory(ctx context.Context, peer model.PeerID, justClear, revoke bool) error {
	if peer == model.NoPeer {
		return opErr("engine.FlushHistory", ErrInvalidInput, "peer is required")
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}

	if m.peers.IsChannel(peer) {
		maxID := m.histories.Get(peer, 0).MaxID
		if d := m.dialogs.Get(peer); d != nil {
			maxID = max(maxID, d.TopMessage)
		}
		req := v1.DeleteHistoryRequest{PeerID: int64(peer), MaxID: ids.ServerID(maxID)}
		if err := m.invoke(ctx, v1.MethodDeleteHistory, req, nil); err != nil {
			return fmt.Errorf("engine.FlushHistory: %w", err)
		}
		if m.closed {
			return ErrClosed
		}
		m.onChannelAvailableMessages(updates.ChannelAvailableMessages{PeerID: peer, AvailableMinID: maxID})
		m.flushDialog(peer, true)
		return nil
	}

	req := v1.DeleteHistoryRequest{PeerID: int64(peer), JustClear: justClear, Revoke: revoke}
	for {
		var out v1.AffectedHistory
		if err := m.invoke(ctx, v1.MethodDeleteHistory, req, &out); err != nil {
			return fmt.Errorf("engine.FlushHistory: %w", err)
		}
		if m.closed {
			return ErrClosed
		}
		// the history is gone either way; the verdict only advances the box
		m.seq.Check(0, out.Pts, out.PtsCount)
		if out.Offset == 0 {
			break
		}
	}

	m.dropHistory(peer)
	m.flushDialog(peer, justClear)
	return nil
}

func (m *Manager) flushDialog(peer model.PeerID, justClear bool) {
	scope := m.dialogs.BeginUnread()
	defer scope.Release()

	if !justClear {
		m.dialogs.Drop(peer)
		m.seq.Forget(m.peers.ChannelID(peer))
		return
	}
	if d := m.dialogs.Get(peer); d != nil {
		scope.Track(d)
		d.UnreadCount = 0
		d.UnreadMentionsCount = 0
		d.UnreadMark = false
		m.touchDialog(peer)
	}
	m.bus.Emit(notify.DialogFlush{Peer: peer})
}
