package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/pending"
	"chatsync/cmd/internal/store"
	"chatsync/cmd/internal/transport"
	"chatsync/cmd/internal/updates"
)

const maxAlbumItems = 10

// SendOptions tune an outgoing message.
type SendOptions struct {
	// ReplyTo is the local id of the replied-to message.
	ReplyTo int64
	// ThreadID is the local id of the thread root the message is posted to.
	ThreadID  int64
	Silent    bool
	NoWebpage bool
	// ClearDraft drops the peer's draft once the message is placed.
	ClearDraft bool
	// ScheduleDate, when set, schedules the message instead of sending it now.
	ScheduleDate int64
	// Sequential makes the send wait for the previous sequential send of the same peer.
	Sequential bool
}

// AlbumItem is one media of an album.
type AlbumItem struct {
	Media   v1.Media
	Caption string
}

// SendText sends text to peer. Text longer than the configured maximum is split into several
// messages, sent in order. The first message is returned; on a failed send it carries the error
// flag and the error is returned alongside.
func (m *Manager) SendText(ctx context.Context, peer model.PeerID, text string, opts SendOptions) (*model.Message, error) {
	if peer == model.NoPeer {
		return nil, opErr("engine.SendText", ErrInvalidInput, "peer is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, opErr("engine.SendText", ErrEmptyMessage, "")
	}
	parts := splitText(text, m.cfg.MaxMessageLength)

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return nil, ErrClosed
	}

	if len(parts) > 1 {
		opts.Sequential = true
	}
	msgs := make([]*model.Message, 0, len(parts))
	recs := make([]*pending.Record, 0, len(parts))
	for _, part := range parts {
		msg := m.compose(peer, opts)
		msg.Text = part
		req := v1.SendMessageRequest{
			PeerID:       int64(peer),
			Message:      part,
			RandomID:     msg.RandomID,
			ReplyToMsgID: ids.ServerID(opts.ReplyTo),
			TopMsgID:     ids.ServerID(opts.ThreadID),
			Silent:       opts.Silent,
			NoWebpage:    opts.NoWebpage,
			ClearDraft:   opts.ClearDraft,
			ScheduleDate: opts.ScheduleDate,
		}
		rec, err := m.track(msg, opts, pending.Request{Method: v1.MethodSendMessage, Params: req})
		if err != nil {
			return nil, err
		}
		m.place(msg, opts)
		msgs = append(msgs, msg)
		recs = append(recs, rec)
	}
	if opts.ClearDraft {
		m.clearDraft(peer)
	}

	var sendErr error
	for _, rec := range recs {
		if err := m.dispatch(ctx, rec.Request, rec); err != nil && sendErr == nil {
			sendErr = err
		}
	}
	return msgs[0].Clone(), sendErr
}

// SendFile sends one media message with an optional caption.
func (m *Manager) SendFile(ctx context.Context, peer model.PeerID, media v1.Media, caption string, opts SendOptions) (*model.Message, error) {
	return m.sendMedia(ctx, "engine.SendFile", peer, media, caption, opts)
}

// SendOther sends a non-file media payload such as a poll, a contact or a location.
func (m *Manager) SendOther(ctx context.Context, peer model.PeerID, media v1.Media, opts SendOptions) (*model.Message, error) {
	return m.sendMedia(ctx, "engine.SendOther", peer, media, "", opts)
}

func (m *Manager) sendMedia(ctx context.Context, op string, peer model.PeerID, media v1.Media, caption string, opts SendOptions) (*model.Message, error) {
	if peer == model.NoPeer {
		return nil, opErr(op, ErrInvalidInput, "peer is required")
	}
	if media.Kind == "" {
		return nil, opErr(op, ErrInvalidInput, "media kind is required")
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return nil, ErrClosed
	}

	msg := m.compose(peer, opts)
	msg.Text = caption
	msg.Media = m.mediaHandle(media)
	req := v1.SendMediaRequest{
		PeerID:       int64(peer),
		Media:        media,
		Message:      caption,
		RandomID:     msg.RandomID,
		ReplyToMsgID: ids.ServerID(opts.ReplyTo),
		TopMsgID:     ids.ServerID(opts.ThreadID),
		Silent:       opts.Silent,
		ClearDraft:   opts.ClearDraft,
		ScheduleDate: opts.ScheduleDate,
	}
	rec, err := m.track(msg, opts, pending.Request{Method: v1.MethodSendMedia, Params: req})
	if err != nil {
		return nil, err
	}
	m.place(msg, opts)
	if opts.ClearDraft {
		m.clearDraft(peer)
	}

	err = m.dispatch(ctx, rec.Request, rec)
	return msg.Clone(), err
}

// SendAlbum sends up to ten media as one album. Every item gets its own pending record; the items
// share a grouped id and go out in one call.
func (m *Manager) SendAlbum(ctx context.Context, peer model.PeerID, items []AlbumItem, opts SendOptions) ([]*model.Message, error) {
	if peer == model.NoPeer {
		return nil, opErr("engine.SendAlbum", ErrInvalidInput, "peer is required")
	}
	if len(items) == 0 || len(items) > maxAlbumItems {
		return nil, opErr("engine.SendAlbum", ErrInvalidInput, "album needs 1..%d items, got %d", maxAlbumItems, len(items))
	}
	for i, it := range items {
		if it.Media.Kind == "" {
			return nil, opErr("engine.SendAlbum", ErrInvalidInput, "item %d has no media kind", i)
		}
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return nil, ErrClosed
	}

	groupedID := strconv.FormatInt(ids.NewRandomID(), 10)
	multi := v1.SendMultiMediaRequest{
		PeerID:       int64(peer),
		Items:        make([]v1.MultiMediaItem, 0, len(items)),
		ReplyToMsgID: ids.ServerID(opts.ReplyTo),
		TopMsgID:     ids.ServerID(opts.ThreadID),
		Silent:       opts.Silent,
		ClearDraft:   opts.ClearDraft,
		ScheduleDate: opts.ScheduleDate,
	}
	msgs := make([]*model.Message, 0, len(items))
	recs := make([]*pending.Record, 0, len(items))
	for _, it := range items {
		msg := m.compose(peer, opts)
		msg.Text = it.Caption
		msg.Media = m.mediaHandle(it.Media)
		msg.GroupedID = groupedID

		single := v1.SendMediaRequest{
			PeerID:       int64(peer),
			Media:        it.Media,
			Message:      it.Caption,
			RandomID:     msg.RandomID,
			ReplyToMsgID: multi.ReplyToMsgID,
			TopMsgID:     multi.TopMsgID,
			Silent:       opts.Silent,
			ScheduleDate: opts.ScheduleDate,
		}
		rec, err := m.track(msg, opts, pending.Request{Method: v1.MethodSendMedia, Params: single})
		if err != nil {
			return nil, err
		}
		m.place(msg, opts)
		multi.Items = append(multi.Items, v1.MultiMediaItem{RandomID: msg.RandomID, Media: it.Media, Message: it.Caption})
		msgs = append(msgs, msg)
		recs = append(recs, rec)
	}
	if opts.ClearDraft {
		m.clearDraft(peer)
	}

	err := m.dispatch(ctx, pending.Request{Method: v1.MethodSendMultiMedia, Params: multi}, recs...)
	out := make([]*model.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out, err
}

// Forward copies messages of from into to.
func (m *Manager) Forward(ctx context.Context, from, to model.PeerID, list []int64, opts SendOptions) ([]*model.Message, error) {
	if from == model.NoPeer || to == model.NoPeer || len(list) == 0 {
		return nil, opErr("engine.Forward", ErrInvalidInput, "from, to and ids are required")
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return nil, ErrClosed
	}

	req := v1.ForwardMessagesRequest{
		FromPeerID:   int64(from),
		ToPeerID:     int64(to),
		TopMsgID:     ids.ServerID(opts.ThreadID),
		Silent:       opts.Silent,
		ScheduleDate: opts.ScheduleDate,
	}
	groups := make(map[string]string)
	var (
		msgs []*model.Message
		recs []*pending.Record
	)
	for _, id := range list {
		src := m.message(from, id)
		if src == nil || ids.IsTemporary(id) {
			continue
		}
		msg := m.compose(to, opts)
		msg.Text = src.Text
		msg.Media = src.Media
		msg.ReplyTo = nil
		if opts.ThreadID != 0 {
			msg.ReplyTo = &model.ReplyTo{MsgID: opts.ThreadID, PeerID: to, TopID: opts.ThreadID}
		}
		fwd := &model.FwdFrom{FromID: src.FromID, Date: src.Date}
		if src.FwdFrom != nil {
			*fwd = *src.FwdFrom
		}
		if fwd.FromID == model.NoPeer {
			fwd.FromID = from
		}
		msg.FwdFrom = fwd
		if g := src.GroupedID; g != "" {
			if groups[g] == "" {
				groups[g] = strconv.FormatInt(ids.NewRandomID(), 10)
			}
			msg.GroupedID = groups[g]
		}

		single := req
		single.IDs = []int32{ids.ServerID(id)}
		single.RandomIDs = []int64{msg.RandomID}
		rec, err := m.track(msg, opts, pending.Request{Method: v1.MethodForwardMessages, Params: single})
		if err != nil {
			return nil, err
		}
		m.place(msg, opts)
		req.IDs = append(req.IDs, ids.ServerID(id))
		req.RandomIDs = append(req.RandomIDs, msg.RandomID)
		msgs = append(msgs, msg)
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, opErr("engine.Forward", ErrNotFound, "no forwardable message among %d ids", len(list))
	}

	err := m.dispatch(ctx, pending.Request{Method: v1.MethodForwardMessages, Params: req}, recs...)
	out := make([]*model.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Clone()
	}
	return out, err
}

// RetrySend resends a failed message with its original correlation id.
func (m *Manager) RetrySend(ctx context.Context, peer model.PeerID, tempID int64) (*model.Message, error) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return nil, ErrClosed
	}

	rec := m.pending.Failed(tempID)
	if rec == nil || rec.Peer != peer {
		return nil, opErr("engine.RetrySend", ErrNotFound, "no failed message %d in %d", tempID, peer)
	}
	msg := m.store.Get(rec.Storage, tempID)
	if msg == nil {
		m.pending.TakeFailed(tempID)
		return nil, opErr("engine.RetrySend", ErrNotFound, "message %d is gone", tempID)
	}
	m.pending.TakeFailed(tempID)
	rec.Err = nil
	if err := m.pending.Add(rec); err != nil {
		return nil, err
	}
	msg.Flags = msg.Flags.With(model.FlagError, false).With(model.FlagPending, true)
	msg.SendError = ""
	m.store.Touch(rec.Storage, tempID)
	m.touchDialogIfTop(msg)
	m.met.Retry()

	err := m.dispatch(ctx, rec.Request, rec)
	return msg.Clone(), err
}

// CancelPending abandons an in-flight or failed send and removes its message.
func (m *Manager) CancelPending(randomID int64) error {
	m.mu.Lock()
	defer m.unlock()

	rec, waiting := m.pending.Cancel(randomID)
	if rec == nil {
		return opErr("engine.CancelPending", ErrNotFound, "no pending message %d", randomID)
	}
	m.dropPending(rec, waiting)
	return nil
}

// dropPending removes the message of a cancelled record as if the server deleted it. Callers
// waiting on the record get nil.
func (m *Manager) dropPending(rec *pending.Record, waiting []pending.Callback) {
	for _, cb := range waiting {
		cb(nil)
	}
	if rec.Storage.Kind == store.KindScheduled {
		m.onDeleteScheduled(updates.DeleteScheduledMessages{PeerID: rec.Peer, IDs: []int64{rec.TempID}})
	} else {
		m.onDeleteMessages(updates.DeleteMessages{PeerID: rec.Peer, IDs: []int64{rec.TempID}})
	}
	m.bus.Emit(notify.MessagesPending{})
	m.met.Pending("cancelled")
}

// compose builds the optimistic message for an outgoing send.
func (m *Manager) compose(peer model.PeerID, opts SendOptions) *model.Message {
	st := m.histories.Get(peer, 0)
	known := max(st.MaxID, st.History.First().Newest())
	if d := m.dialogs.Get(peer); d != nil {
		known = max(known, d.TopMessage)
	}
	if opts.ScheduleDate != 0 {
		if list := m.store.IDs(store.Scheduled(peer)); len(list) > 0 {
			known = max(known, list[0])
		}
	}

	self := m.peers.SelfID()
	msg := &model.Message{
		ID:       m.ids.MintTemporary(peer, known),
		PeerID:   peer,
		FromID:   self,
		Date:     m.now().Unix(),
		Flags:    model.FlagOut | model.FlagPending | model.FlagIsOutgoing,
		RandomID: ids.NewRandomID(),
	}
	if peer != self {
		msg.Flags |= model.FlagUnread
	}
	if opts.Silent {
		msg.Flags |= model.FlagSilent
	}
	if opts.ScheduleDate != 0 {
		msg.Flags |= model.FlagScheduled
		msg.Date = opts.ScheduleDate
	}
	if opts.ReplyTo != 0 || opts.ThreadID != 0 {
		reply := opts.ReplyTo
		if reply == 0 {
			reply = opts.ThreadID
		}
		msg.ReplyTo = &model.ReplyTo{MsgID: reply, PeerID: peer, TopID: opts.ThreadID}
	}
	return msg
}

func (m *Manager) track(msg *model.Message, opts SendOptions, req pending.Request) (*pending.Record, error) {
	key := store.History(msg.PeerID)
	if msg.Flags.Has(model.FlagScheduled) {
		key = store.Scheduled(msg.PeerID)
	}
	rec := &pending.Record{
		RandomID:   msg.RandomID,
		Peer:       msg.PeerID,
		TempID:     msg.ID,
		ThreadID:   opts.ThreadID,
		Storage:    key,
		Sequential: opts.Sequential,
		Request:    req,
	}
	if err := m.pending.Add(rec); err != nil {
		return nil, fmt.Errorf("engine: track %d: %w", msg.RandomID, err)
	}
	return rec, nil
}

// place inserts the optimistic message into its storage and histories. Scheduled messages never
// move the dialog.
func (m *Manager) place(msg *model.Message, opts SendOptions) {
	peer := msg.PeerID
	if msg.Flags.Has(model.FlagScheduled) {
		m.store.Set(store.Scheduled(peer), msg)
		m.bus.Emit(notify.ScheduledNew{Peer: peer, MessageID: msg.ID})
		return
	}

	m.store.Set(store.History(peer), msg)
	if opts.ThreadID != 0 {
		if st := m.histories.Peek(peer, opts.ThreadID); st != nil {
			st.History.Unshift(msg.ID)
			m.bus.Emit(notify.HistoryAppend{Peer: peer, ThreadID: opts.ThreadID, MessageID: msg.ID})
		}
	}
	m.histories.Get(peer, 0).History.Unshift(msg.ID)

	d := m.dialogs.Get(peer)
	if d == nil {
		d = &model.Dialog{PeerID: peer}
		m.dialogs.Set(d, msg.Date)
	}
	m.setDialogTopMessage(d, msg)
	m.bus.Emit(notify.HistoryAppend{Peer: peer, MessageID: msg.ID})
}

func (m *Manager) clearDraft(peer model.PeerID) {
	d := m.dialogs.Get(peer)
	if d == nil || d.Draft == nil {
		return
	}
	d.Draft = nil
	m.dialogs.Touch(d)
	m.touchDialog(peer)
	m.bus.Emit(notify.DraftUpdate{Peer: peer})
}

func (m *Manager) mediaHandle(raw v1.Media) *model.MediaHandle {
	if m.media != nil {
		return m.media.Save(raw)
	}
	return &model.MediaHandle{Kind: raw.Kind, Ref: raw.ID}
}

// dispatch sends req on behalf of recs and applies the updates the server answers with.
func (m *Manager) dispatch(ctx context.Context, req pending.Request, recs ...*pending.Record) error {
	lead := recs[0]
	call := transport.Call{Method: req.Method, Params: req.Params, ID: transport.NewCallID()}
	if lead.Sequential {
		if prev := m.pending.LastSequential(lead.Peer); prev != nil {
			call.AfterID = prev.CallID
		}
	}
	for _, rec := range recs {
		if err := m.pending.MarkSent(rec.RandomID, call.ID); err != nil {
			return fmt.Errorf("engine: dispatch %d: %w", rec.RandomID, err)
		}
	}
	m.bus.Emit(notify.MessagesPending{})
	m.log.Debug("engine.send", "peer_id", lead.Peer, "method", req.Method, "call_id", call.ID,
		"after_id", call.AfterID, "messages", len(recs))

	var out v1.UpdatesPayload
	m.suspend()
	err := m.rpc.InvokeCall(ctx, call, &out)
	m.resume()

	if err != nil {
		for _, rec := range recs {
			m.failSend(rec, err)
		}
		return fmt.Errorf("engine: send %s: %w", req.Method, err)
	}
	if m.closed {
		return ErrClosed
	}
	m.applyPayload(out)
	return nil
}

// failSend marks the message of rec as failed. A record confirmed while the call was in flight is
// left alone.
func (m *Manager) failSend(rec *pending.Record, err error) {
	failed, waiting := m.pending.Fail(rec.RandomID, err)
	if failed == nil {
		return
	}
	for _, cb := range waiting {
		cb(nil)
	}
	if msg := m.store.Get(rec.Storage, rec.TempID); msg != nil {
		msg.Flags = msg.Flags.With(model.FlagError, true).With(model.FlagPending, false)
		msg.SendError = err.Error()
		m.store.Touch(rec.Storage, rec.TempID)
	}

	m.bus.Emit(notify.MessageError{Peer: rec.Peer, TempID: rec.TempID, Err: err.Error()})
	if d := m.dialogs.Get(rec.Peer); d != nil {
		m.bus.Emit(notify.DialogUnread{Peer: rec.Peer, UnreadCount: d.UnreadCount, UnreadMentions: d.UnreadMentionsCount})
		m.touchDialog(rec.Peer)
	}
	m.bus.Emit(notify.MessagesPending{})
	m.met.Pending("failed")
	m.log.Warn("engine.send.fail", "peer_id", rec.Peer, "temp_id", rec.TempID, "random_id", rec.RandomID, "err", err)
}

// splitText cuts text into parts of at most limit runes, preferring line breaks, then spaces.
func splitText(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if limit <= 0 || len(runes) <= limit {
		return []string{string(runes)}
	}

	var parts []string
	for len(runes) > limit {
		cut := lastIndex(runes[:limit], func(r rune) bool { return r == '\n' })
		if cut <= 0 {
			cut = lastIndex(runes[:limit], unicode.IsSpace)
		}
		if cut <= 0 {
			cut = limit
		}
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			parts = append(parts, part)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func lastIndex(rs []rune, f func(rune) bool) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if f(rs[i]) {
			return i
		}
	}
	return -1
}
