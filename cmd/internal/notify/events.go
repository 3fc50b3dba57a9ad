package notify

import "chatsync/cmd/internal/model"

// Event is a notification emitted after the engine mutated its stores.
type Event interface {
	Name() string
}

// HistoryAppend fires when a new message lands at the bottom of a history.
type HistoryAppend struct {
	Peer      model.PeerID
	ThreadID  int64
	MessageID int64
}

// MessageEdit fires when a stored message changed in place.
type MessageEdit struct {
	StorageKey string
	Peer       model.PeerID
	MessageID  int64
}

// HistoryDelete fires once per delete batch.
type HistoryDelete struct {
	Peer model.PeerID
	IDs  []int64
}

// AlbumEdit fires once per grouped id touched by an edit or delete.
type AlbumEdit struct {
	Peer      model.PeerID
	GroupedID string
	IDs       []int64
	Deleted   []int64
}

// DialogUpdate fires when a single dialog summary changed.
type DialogUpdate struct {
	Peer model.PeerID
}

// DialogsMultiUpdate fires when several dialogs changed in one tick.
type DialogsMultiUpdate struct {
	Peers []model.PeerID
}

// DialogUnread fires when a dialog's unread counters changed.
type DialogUnread struct {
	Peer           model.PeerID
	UnreadCount    int32
	UnreadMentions int32
}

// DialogFlush fires when a dialog's history was cleared.
type DialogFlush struct {
	Peer model.PeerID
}

// DialogDrop fires when a dialog left the list.
type DialogDrop struct {
	Peer model.PeerID
}

// TotalUnread fires once per unread modification scope that changed the badge.
type TotalUnread struct {
	Count int64
}

// MessageSent fires when a pending message was confirmed.
type MessageSent struct {
	Peer   model.PeerID
	TempID int64
	ID     int64
}

// MessageError fires when a send failed permanently.
type MessageError struct {
	Peer   model.PeerID
	TempID int64
	Err    string
}

// MessagesPending fires when the set of pending messages changed.
type MessagesPending struct{}

// MessagesRead fires when read-history touched at least one message.
type MessagesRead struct {
	Peer model.PeerID
}

// MessagesMediaRead fires when media contents were consumed.
type MessagesMediaRead struct {
	Peer model.PeerID
	IDs  []int64
}

// MessagePinned fires when pinned flags changed.
type MessagePinned struct {
	Peer   model.PeerID
	IDs    []int64
	Pinned bool
}

// ViewsItem is one coalesced view counter.
type ViewsItem struct {
	Peer      model.PeerID
	MessageID int64
	Views     int32
}

// MessagesViews carries coalesced view counters.
type MessagesViews struct {
	Items []ViewsItem
}

// ReactionsItem is one coalesced reaction change; Previous is the summary before the tick.
type ReactionsItem struct {
	Peer      model.PeerID
	MessageID int64
	Previous  *model.Reactions
	Current   *model.Reactions
}

// MessagesReactions carries coalesced reaction changes.
type MessagesReactions struct {
	Items []ReactionsItem
}

// HistoryReload fires when a peer's cached history was dropped and must be refetched.
type HistoryReload struct {
	Peer model.PeerID
}

// PeerForbidden fires when access to a peer was revoked.
type PeerForbidden struct {
	Peer model.PeerID
}

// DraftUpdate fires when a peer's draft changed.
type DraftUpdate struct {
	Peer model.PeerID
}

// ScheduledNew fires when a scheduled message was stored.
type ScheduledNew struct {
	Peer      model.PeerID
	MessageID int64
}

// ScheduledDelete fires when scheduled messages were removed.
type ScheduledDelete struct {
	Peer model.PeerID
	IDs  []int64
}

func (HistoryAppend) Name() string      { return "history_append" }
func (MessageEdit) Name() string        { return "message_edit" }
func (HistoryDelete) Name() string      { return "history_delete" }
func (AlbumEdit) Name() string          { return "album_edit" }
func (DialogUpdate) Name() string       { return "dialog_update" }
func (DialogsMultiUpdate) Name() string { return "dialogs_multiupdate" }
func (DialogUnread) Name() string       { return "dialog_unread" }
func (DialogFlush) Name() string        { return "dialog_flush" }
func (DialogDrop) Name() string         { return "dialog_drop" }
func (TotalUnread) Name() string        { return "total_unread" }
func (MessageSent) Name() string        { return "message_sent" }
func (MessageError) Name() string       { return "message_error" }
func (MessagesPending) Name() string    { return "messages_pending" }
func (MessagesRead) Name() string       { return "messages_read" }
func (MessagesMediaRead) Name() string  { return "messages_media_read" }
func (MessagePinned) Name() string      { return "message_pinned" }
func (MessagesViews) Name() string      { return "messages_views" }
func (MessagesReactions) Name() string  { return "messages_reactions" }
func (HistoryReload) Name() string      { return "history_reload" }
func (PeerForbidden) Name() string      { return "peer_forbidden" }
func (DraftUpdate) Name() string        { return "draft_update" }
func (ScheduledNew) Name() string       { return "scheduled_new" }
func (ScheduledDelete) Name() string    { return "scheduled_delete" }
