package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/pending"
	"chatsync/cmd/internal/store"
	"chatsync/cmd/internal/updates"
)

// Apply applies one batch of push updates.
func (m *Manager) Apply(p v1.UpdatesPayload) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return
	}
	m.applyPayload(p)
}

func (m *Manager) applyPayload(p v1.UpdatesPayload) {
	m.peers.Observe(p.Chats...)
	scope := m.dialogs.BeginUnread()
	defer scope.Release()

	for _, f := range p.Updates {
		u, err := m.decoder.Decode(f)
		if err != nil {
			m.log.Warn("updates.decode.fail", "kind", f.Kind, "channel_id", f.ChannelID, "err", err)
			continue
		}

		switch m.seq.Check(f.ChannelID, f.Pts, f.PtsCount) {
		case updates.Duplicate:
			m.met.Update("duplicate")
			continue
		case updates.Gap:
			m.met.Gap()
			peer := u.Peer()
			if peer == model.NoPeer && f.ChannelID != 0 {
				peer = model.PeerID(-f.ChannelID)
			}
			m.log.Info("updates.seq.gap", "channel_id", f.ChannelID, "pts", f.Pts, "peer_id", peer)
			m.resetPeer(peer)
			continue
		}
		m.applyUpdate(u)
	}
}

func (m *Manager) applyUpdate(u updates.Update) {
	switch u := u.(type) {
	case updates.NewMessage:
		m.met.Update("new_message")
		m.onNewMessage(u.Message, false)
	case updates.MessageID:
		m.met.Update("message_id")
		m.onMessageID(u)
	case updates.EditMessage:
		m.met.Update("edit_message")
		m.onEditMessage(u.Message)
	case updates.DeleteMessages:
		m.met.Update("delete_messages")
		m.onDeleteMessages(u)
	case updates.ReadHistory:
		m.met.Update("read_history")
		m.onReadHistory(u)
	case updates.ReadMessagesContents:
		m.met.Update("read_messages_contents")
		m.onReadMessagesContents(u)
	case updates.MessageReactions:
		m.met.Update("message_reactions")
		m.onMessageReactions(u)
	case updates.MessageViews:
		m.met.Update("message_views")
		m.onMessageViews(u)
	case updates.PinnedMessages:
		m.met.Update("pinned_messages")
		m.onPinnedMessages(u)
	case updates.DialogPinned:
		m.met.Update("dialog_pinned")
		m.onDialogPinned(u)
	case updates.DialogUnreadMark:
		m.met.Update("dialog_unread_mark")
		m.onDialogUnreadMark(u)
	case updates.Channel:
		m.met.Update("channel")
		m.onChannel(u)
	case updates.ChannelAvailableMessages:
		m.met.Update("channel_available_messages")
		m.onChannelAvailableMessages(u)
	case updates.NewScheduledMessage:
		m.met.Update("new_scheduled_message")
		m.onNewScheduled(u.Message)
	case updates.DeleteScheduledMessages:
		m.met.Update("delete_scheduled_messages")
		m.onDeleteScheduled(u)
	case updates.DraftMessage:
		m.met.Update("draft_message")
		m.onDraft(u)
	case updates.NotifySettings:
		m.met.Update("notify_settings")
		m.onNotifySettings(u)
	case updates.ChannelTooLong:
		m.met.Update("channel_too_long")
		m.resetPeer(u.PeerID)
	default:
		m.log.Warn("updates.unknown", "type", fmt.Sprintf("%T", u))
	}
}

// onNewMessage handles a message that just appeared. requeued is set when the message is replayed
// after a dialog reload or a late message-id binding.
func (m *Manager) onNewMessage(msg *model.Message, requeued bool) {
	if msg == nil || msg.ID == 0 {
		return
	}
	peer := msg.PeerID

	if !requeued && m.peers.IsInChat(peer) && m.pending.ByMessageID(msg.ID) == nil {
		// the dialog summary is unknown or being refreshed; replay the message once it arrives
		if m.reloading(peer) || (m.dialogs.Get(peer) == nil && m.scheduleReload(peer)) {
			m.queued[peer] = append(m.queued[peer], msg)
			return
		}
	}

	m.saveMessage(msg)
	msg = m.checkPending(msg)

	if tid := msg.ThreadID(); tid != 0 {
		if st := m.histories.Peek(peer, tid); st != nil {
			if m.insertNew(st, msg, requeued) && msg.ID > st.MaxID {
				st.MaxID = msg.ID
			}
		}
	}
	if !m.insertNew(m.histories.Get(peer, 0), msg, requeued) {
		return
	}

	d := m.dialogs.Get(peer)
	if d == nil {
		return
	}
	scope := m.dialogs.BeginUnread()
	if !msg.IsOut() && msg.IsUnread() && msg.ID > d.TopMessage {
		scope.Track(d)
		d.UnreadCount++
		if msg.Flags.Has(model.FlagMentioned) {
			d.UnreadMentionsCount++
			m.modifyCachedMentions(peer, msg.ID, true)
		}
	}
	if msg.ID >= d.TopMessage {
		m.setDialogTopMessage(d, msg)
	}
	scope.Release()
}

// insertNew adds msg at the bottom of st. It reports whether processing should continue: an id
// already present is a duplicate unless the message is being replayed.
func (m *Manager) insertNew(st *history.Storage, msg *model.Message, requeued bool) bool {
	if st.History.Includes(msg.ID) {
		return requeued
	}
	st.History.Unshift(msg.ID)
	st.AddCount(1)
	st.MergeReplyMarkup(msg)
	m.bus.Emit(notify.HistoryAppend{Peer: st.Peer, ThreadID: st.ThreadID, MessageID: msg.ID})
	return true
}

// checkPending swaps a confirmed message for the optimistic object it replaces.
func (m *Manager) checkPending(msg *model.Message) *model.Message {
	rec := m.pending.ByMessageID(msg.ID)
	if rec == nil {
		return msg
	}
	return m.finalizePending(rec, msg)
}

// finalizePending moves the temporary message of rec to its final id. The optimistic object is kept
// so holders of it observe the confirmed state.
func (m *Manager) finalizePending(rec *pending.Record, final *model.Message) *model.Message {
	if rec.Storage.Kind == store.KindHistory {
		m.histories.Get(rec.Peer, 0).History.Delete(rec.TempID)
		if rec.ThreadID != 0 {
			if st := m.histories.Peek(rec.Peer, rec.ThreadID); st != nil {
				st.History.Delete(rec.TempID)
			}
		}
	}

	_, callbacks := m.pending.Finalize(rec.RandomID)
	tmp := m.store.Delete(rec.Storage, rec.TempID)
	if tmp == nil {
		tmp = final
	} else {
		*tmp = *final
	}
	tmp.Flags = tmp.Flags.With(model.FlagPending|model.FlagIsOutgoing|model.FlagError, false)
	tmp.RandomID = 0
	tmp.SendError = ""
	m.store.Set(rec.Storage, tmp)

	if d := m.dialogs.Get(rec.Peer); d != nil && d.TopMessage == rec.TempID {
		m.setDialogTopMessage(d, tmp)
	}

	m.bus.Emit(notify.MessageSent{Peer: rec.Peer, TempID: rec.TempID, ID: tmp.ID})
	m.bus.Emit(notify.MessagesPending{})
	m.met.Pending("confirmed")
	m.log.Debug("engine.send.confirmed", "peer_id", rec.Peer, "temp_id", rec.TempID, "id", tmp.ID)
	for _, cb := range callbacks {
		cb(tmp.Clone())
	}
	return tmp
}

func (m *Manager) onMessageID(u updates.MessageID) {
	rec := m.pending.Get(u.RandomID)
	if rec == nil {
		return
	}
	final := m.ids.LocalID(u.ServerID, m.peers.ChannelID(rec.Peer))
	m.pending.Bind(u.RandomID, final)

	// the message itself may have arrived before its id binding
	msg := m.store.Get(rec.Storage, final)
	if msg == nil {
		return
	}
	if rec.Storage.Kind == store.KindScheduled {
		m.onNewScheduled(msg)
		return
	}
	m.onNewMessage(msg, true)
}

func (m *Manager) onEditMessage(msg *model.Message) {
	if msg == nil {
		return
	}
	peer := msg.PeerID
	key := store.History(peer)
	old := m.message(peer, msg.ID)
	if old == nil {
		return
	}

	if !reflect.DeepEqual(old.Reactions, msg.Reactions) {
		m.onMessageReactions(updates.MessageReactions{PeerID: peer, ID: msg.ID, Reactions: msg.Reactions})
	}
	msg.Reactions = old.Reactions
	m.saveMessage(msg)
	m.histories.Get(peer, 0).MergeReplyMarkup(msg)

	if msg.GroupedID != "" {
		m.bus.Emit(notify.AlbumEdit{Peer: peer, GroupedID: msg.GroupedID, IDs: albumIDs(m.store.ByGroupedID(msg.GroupedID))})
	}

	d := m.dialogs.Get(peer)
	isTop := d != nil && d.TopMessage == msg.ID
	if isTop && msg.Action != nil && msg.Action.ClearHistory {
		m.bus.Emit(notify.DialogFlush{Peer: peer})
		return
	}
	m.bus.Emit(notify.MessageEdit{StorageKey: key.String(), Peer: peer, MessageID: msg.ID})
	if isTop || msg.GroupedID != "" {
		m.touchDialog(peer)
	}
}

func albumIDs(list []*model.Message) []int64 {
	out := make([]int64, len(list))
	for i, msg := range list {
		out[i] = msg.ID
	}
	return out
}

func (m *Manager) onDeleteMessages(u updates.DeleteMessages) {
	peer := u.PeerID
	if peer == model.NoPeer {
		peer = m.store.FindPeerByIDs(u.IDs)
	}
	if peer == model.NoPeer || len(u.IDs) == 0 {
		return
	}
	m.rpc.ClearCache(v1.MethodGetSearchCounters, matchPeer(peer))

	unread, mentions := m.handleDeleted(peer, store.History(peer), u.IDs, true)

	storages := m.histories.Threads(peer)
	if st := m.histories.Peek(peer, 0); st != nil {
		storages = append(storages, st)
	}
	for _, st := range storages {
		var n int32
		for _, id := range u.IDs {
			if st.History.Delete(id) {
				n++
			}
		}
		if n > 0 {
			st.AddCount(-n)
		}
	}
	m.bus.Emit(notify.HistoryDelete{Peer: peer, IDs: append([]int64(nil), u.IDs...)})

	d := m.dialogs.Get(peer)
	if d == nil {
		return
	}
	if unread > 0 || mentions > 0 {
		scope := m.dialogs.BeginUnread()
		scope.Track(d)
		d.UnreadCount -= unread
		if d.UnreadCount <= 0 {
			d.UnreadMentionsCount = 0
		} else {
			d.UnreadMentionsCount -= mentions
		}
		scope.Release()
	}
	if slices.Contains(u.IDs, d.TopMessage) {
		first := m.histories.Get(peer, 0).History.First()
		if first.IsEnd(history.EndBottom) && first.Len() > 0 {
			if msg := m.message(peer, first.Newest()); msg != nil {
				m.setDialogTopMessage(d, msg)
				return
			}
		}
		m.scheduleReload(peer)
	}
}

// handleDeleted removes list from key and reports how many inbound unread messages and mentions
// went with them. One album_edit is emitted per touched album.
func (m *Manager) handleDeleted(peer model.PeerID, key store.Key, list []int64, checkMissing bool) (unread, mentions int32) {
	var (
		missing bool
		groups  = make(map[string][]int64)
		order   []string
	)
	for _, id := range list {
		msg := m.store.Get(key, id)
		if msg == nil {
			missing = true
			continue
		}
		if key.Kind == store.KindHistory && !msg.IsOut() && msg.IsUnread() {
			unread++
			if msg.Flags.Has(model.FlagMentioned) {
				mentions++
				m.modifyCachedMentions(peer, id, false)
			}
		}
		if g := msg.GroupedID; g != "" {
			if _, ok := groups[g]; !ok {
				order = append(order, g)
			}
			groups[g] = append(groups[g], id)
		}
		m.store.Delete(key, id)
	}
	if missing && checkMissing {
		m.checkUnreadConsistency(peer)
	}
	for _, g := range order {
		m.bus.Emit(notify.AlbumEdit{Peer: peer, GroupedID: g, IDs: albumIDs(m.store.ByGroupedID(g)), Deleted: groups[g]})
	}
	return unread, mentions
}

func (m *Manager) onReadHistory(u updates.ReadHistory) {
	peer := u.PeerID
	if peer == model.NoPeer {
		return
	}
	thread := u.ThreadID
	d := m.dialogs.Get(peer)
	if thread != 0 {
		d = nil
	}
	st := m.histories.Get(peer, thread)

	var readMax int64
	if !u.Outbox {
		readMax = m.readMaxIDIfUnread(peer, thread)
	}

	scope := m.dialogs.BeginUnread()
	scope.Track(d)
	defer scope.Release()

	key := store.History(peer)
	affected := false
	for _, id := range m.store.IDs(key) {
		if id > u.MaxID {
			continue
		}
		msg := m.store.Get(key, id)
		if msg.IsOut() != u.Outbox {
			continue
		}
		if thread != 0 && msg.ID != thread && msg.ThreadID() != thread {
			continue
		}
		if !msg.IsUnread() {
			if readMax != 0 && readMax < id {
				continue
			}
			break
		}

		msg.Flags = msg.Flags.With(model.FlagUnread, false)
		m.store.Touch(key, id)
		affected = true
		if u.Outbox || d == nil {
			continue
		}
		if u.StillUnread == nil {
			d.UnreadCount--
		}
		if msg.Flags.Has(model.FlagMentioned) {
			d.UnreadMentionsCount--
			m.modifyCachedMentions(peer, id, false)
		}
	}

	if u.Outbox {
		st.ReadOutboxMaxID = max(st.ReadOutboxMaxID, u.MaxID)
		if d != nil {
			d.ReadOutboxMaxID = max(d.ReadOutboxMaxID, u.MaxID)
		}
	} else {
		st.ReadMaxID = max(st.ReadMaxID, u.MaxID)
		if d != nil {
			d.ReadInboxMaxID = max(d.ReadInboxMaxID, u.MaxID)
		}
	}

	if d != nil && !u.Outbox {
		switch {
		case u.StillUnread != nil:
			d.UnreadCount = *u.StillUnread
		case d.UnreadCount < 0 || u.MaxID >= d.TopMessage:
			d.UnreadCount = 0
		}
		if d.UnreadMentionsCount < 0 || d.UnreadCount == 0 {
			d.UnreadMentionsCount = 0
		}
		if !affected && u.StillUnread == nil && d.UnreadCount > 0 {
			m.scheduleReload(peer)
		}
		m.touchDialog(peer)
	}

	if affected {
		m.bus.Emit(notify.MessagesRead{Peer: peer})
	}
}

// readMaxIDIfUnread returns the inbox read watermark of (peer, thread) while something newer is
// still unread, or 0.
func (m *Manager) readMaxIDIfUnread(peer model.PeerID, thread int64) int64 {
	st := m.histories.Get(peer, thread)
	newest := m.message(peer, st.MaxID)

	if thread != 0 && !m.peers.IsForum(peer) {
		readMax := max(m.histories.Get(peer, 0).ReadMaxID, st.ReadMaxID)
		if !newest.IsOut() && readMax < st.MaxID {
			return readMax
		}
		return 0
	}

	readMax := st.ReadMaxID
	if peer.IsUser() {
		readMax = max(readMax, st.ReadOutboxMaxID)
	}
	if !newest.IsOut() && readMax < st.MaxID && ids.ServerID(readMax) != 0 {
		return readMax
	}
	return 0
}

func (m *Manager) onReadMessagesContents(u updates.ReadMessagesContents) {
	peer := u.PeerID
	if peer == model.NoPeer {
		peer = m.store.FindPeerByIDs(u.IDs)
	}
	if peer == model.NoPeer {
		return
	}
	key := store.History(peer)
	var (
		done    []int64
		missing bool
	)
	for _, id := range u.IDs {
		msg := m.message(peer, id)
		if msg == nil {
			missing = true
			continue
		}
		if msg.Flags.Has(model.FlagMentioned) && msg.Flags.Has(model.FlagMediaUnread) {
			m.modifyCachedMentions(peer, id, false)
		}
		msg.Flags = msg.Flags.With(model.FlagMediaUnread, false)
		m.store.Touch(key, id)
		done = append(done, id)
	}
	if missing {
		m.checkUnreadConsistency(peer)
	}
	if len(done) > 0 {
		m.bus.Emit(notify.MessagesMediaRead{Peer: peer, IDs: done})
	}
}

func (m *Manager) onMessageReactions(u updates.MessageReactions) {
	msg := m.message(u.PeerID, u.ID)
	if msg == nil {
		return
	}
	prev := msg.Reactions
	m.batcher.Push("reactions", m.resolveReactions, messageKey(msg.PeerID, msg.ID), func() any {
		return model.CloneReactions(prev)
	})
	msg.Reactions = model.CloneReactions(u.Reactions)
	m.store.Touch(store.History(msg.PeerID), msg.ID)
}

func (m *Manager) resolveReactions(keys []string, first map[string]any) notify.Event {
	items := make([]notify.ReactionsItem, 0, len(keys))
	for _, k := range keys {
		peer, id, ok := parseMessageKey(k)
		if !ok {
			continue
		}
		msg := m.message(peer, id)
		if msg == nil {
			continue
		}
		prev, _ := first[k].(*model.Reactions)
		items = append(items, notify.ReactionsItem{
			Peer:      peer,
			MessageID: id,
			Previous:  prev,
			Current:   model.CloneReactions(msg.Reactions),
		})
	}
	if len(items) == 0 {
		return nil
	}
	return notify.MessagesReactions{Items: items}
}

func (m *Manager) onMessageViews(u updates.MessageViews) {
	msg := m.message(u.PeerID, u.ID)
	if msg == nil || u.Views <= msg.Views {
		return
	}
	msg.Views = u.Views
	m.store.Touch(store.History(msg.PeerID), msg.ID)
	m.batcher.Push("views", m.resolveViews, messageKey(msg.PeerID, msg.ID), nil)
}

func (m *Manager) resolveViews(keys []string, _ map[string]any) notify.Event {
	items := make([]notify.ViewsItem, 0, len(keys))
	for _, k := range keys {
		peer, id, ok := parseMessageKey(k)
		if !ok {
			continue
		}
		if msg := m.message(peer, id); msg != nil {
			items = append(items, notify.ViewsItem{Peer: peer, MessageID: id, Views: msg.Views})
		}
	}
	if len(items) == 0 {
		return nil
	}
	return notify.MessagesViews{Items: items}
}

func (m *Manager) onPinnedMessages(u updates.PinnedMessages) {
	peer := u.PeerID
	if peer == model.NoPeer {
		peer = m.store.FindPeerByIDs(u.IDs)
	}
	if peer == model.NoPeer {
		return
	}
	key := store.History(peer)
	var missing []int64
	for _, id := range u.IDs {
		msg := m.message(peer, id)
		if msg == nil {
			missing = append(missing, id)
			continue
		}
		msg.Flags = msg.Flags.With(model.FlagPinned, u.Pinned)
		m.store.Touch(key, id)
	}
	if u.Pinned && len(missing) > 0 && !m.closed {
		m.fetches.start()
		go m.fetchMessages(peer, missing)
	}
	delete(m.pinned, peer)
	m.bus.Emit(notify.MessagePinned{Peer: peer, IDs: append([]int64(nil), u.IDs...), Pinned: u.Pinned})
}

// fetchMessages loads messages referenced by an update but not cached yet. It runs on its own
// goroutine registered with m.fetches.
func (m *Manager) fetchMessages(peer model.PeerID, list []int64) {
	defer func() {
		m.mu.Lock()
		m.fetches.done()
		m.mu.Unlock()
	}()

	req := v1.GetMessagesRequest{PeerID: int64(peer), IDs: make([]int32, len(list))}
	for i, id := range list {
		req.IDs[i] = ids.ServerID(id)
	}
	tok := m.live.Token(m.base, peer)

	var out v1.MessagesResponse
	if err := m.rpc.Invoke(tok.Context(), v1.MethodGetMessages, req, &out); err != nil {
		m.log.Info("engine.messages.fetch.fail", "peer_id", peer, "ids", len(list), "err", err)
		return
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed || !tok.Alive() {
		return
	}
	m.peers.Observe(out.Chats...)
	m.saveMessages(out.Messages)
	for _, id := range list {
		if m.message(peer, id) != nil {
			m.bus.Emit(notify.MessageEdit{StorageKey: store.History(peer).String(), Peer: peer, MessageID: id})
		}
	}
}

func (m *Manager) onDialogPinned(u updates.DialogPinned) {
	d := m.dialogs.Get(u.PeerID)
	if d == nil {
		m.scheduleReload(u.PeerID)
		return
	}
	d.Pinned = u.Pinned
	m.dialogs.Touch(d)
	m.touchDialog(u.PeerID)
}

func (m *Manager) onDialogUnreadMark(u updates.DialogUnreadMark) {
	d := m.dialogs.Get(u.PeerID)
	if d == nil {
		m.scheduleReload(u.PeerID)
		return
	}
	scope := m.dialogs.BeginUnread()
	scope.Track(d)
	d.UnreadMark = u.Unread
	scope.Release()
	m.touchDialog(u.PeerID)
}

func (m *Manager) onChannel(u updates.Channel) {
	if u.Chat != nil {
		m.peers.Observe(*u.Chat)
	}
	peer := u.PeerID
	if peer == model.NoPeer {
		return
	}
	if !m.peers.CanViewHistory(peer) {
		m.dropHistory(peer)
		m.bus.Emit(notify.PeerForbidden{Peer: peer})
	}

	need := m.peers.IsInChat(peer)
	d := m.dialogs.Get(peer)
	switch {
	case need && d == nil:
		m.scheduleReload(peer)
	case !need && d != nil:
		scope := m.dialogs.BeginUnread()
		m.dialogs.Drop(peer)
		scope.Release()
		m.seq.Forget(m.peers.ChannelID(peer))
	}
}

func (m *Manager) onChannelAvailableMessages(u updates.ChannelAvailableMessages) {
	var list []int64
	for _, id := range m.store.IDs(store.History(u.PeerID)) {
		if !ids.IsTemporary(id) && id <= u.AvailableMinID {
			list = append(list, id)
		}
	}
	if st := m.histories.Peek(u.PeerID, 0); st != nil {
		for _, s := range st.History.Slices() {
			for _, id := range s.IDs {
				if !ids.IsTemporary(id) && id <= u.AvailableMinID && !slices.Contains(list, id) {
					list = append(list, id)
				}
			}
		}
	}
	if len(list) == 0 {
		return
	}
	m.onDeleteMessages(updates.DeleteMessages{PeerID: u.PeerID, IDs: list})
}

func (m *Manager) onNewScheduled(msg *model.Message) {
	if msg == nil || msg.ID == 0 {
		return
	}
	key := store.Scheduled(msg.PeerID)
	msg.Flags |= model.FlagScheduled

	if rec := m.pending.ByMessageID(msg.ID); rec != nil && rec.Storage == key {
		m.finalizePending(rec, msg)
		return
	}
	existed := m.store.Has(key, msg.ID)
	m.store.Set(key, msg)
	if existed {
		m.bus.Emit(notify.MessageEdit{StorageKey: key.String(), Peer: msg.PeerID, MessageID: msg.ID})
		return
	}
	m.bus.Emit(notify.ScheduledNew{Peer: msg.PeerID, MessageID: msg.ID})
}

func (m *Manager) onDeleteScheduled(u updates.DeleteScheduledMessages) {
	if u.PeerID == model.NoPeer || len(u.IDs) == 0 {
		return
	}
	m.handleDeleted(u.PeerID, store.Scheduled(u.PeerID), u.IDs, false)
	m.bus.Emit(notify.ScheduledDelete{Peer: u.PeerID, IDs: append([]int64(nil), u.IDs...)})
}

func (m *Manager) onDraft(u updates.DraftMessage) {
	d := m.dialogs.Get(u.PeerID)
	if d == nil {
		return
	}
	d.Draft = u.Draft
	m.dialogs.Touch(d)
	m.touchDialog(u.PeerID)
	m.bus.Emit(notify.DraftUpdate{Peer: u.PeerID})
}

func (m *Manager) onNotifySettings(u updates.NotifySettings) {
	d := m.dialogs.Get(u.PeerID)
	if d == nil {
		return
	}
	scope := m.dialogs.BeginUnread()
	scope.Track(d)
	d.MuteUntil = u.MuteUntil
	scope.Release()
	m.touchDialog(u.PeerID)
}

func matchPeer(peer model.PeerID) func(json.RawMessage) bool {
	return func(params json.RawMessage) bool {
		var req struct {
			PeerID int64 `json:"peer_id"`
		}
		return json.Unmarshal(params, &req) == nil && model.PeerID(req.PeerID) == peer
	}
}

func messageKey(peer model.PeerID, id int64) string {
	return peer.String() + "_" + strconv.FormatInt(id, 10)
}

func parseMessageKey(k string) (model.PeerID, int64, bool) {
	p, i, ok := strings.Cut(k, "_")
	if !ok {
		return model.NoPeer, 0, false
	}
	peer, ok := parsePeer(p)
	if !ok {
		return model.NoPeer, 0, false
	}
	id, err := strconv.ParseInt(i, 10, 64)
	if err != nil {
		return model.NoPeer, 0, false
	}
	return peer, id, true
}

func parsePeer(s string) (model.PeerID, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v == 0 {
		return model.NoPeer, false
	}
	return model.PeerID(v), true
}
