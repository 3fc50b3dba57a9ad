// Package updates turns the server's push stream into a closed set of typed updates with local ids,
// and detects per-channel sequence gaps.
package updates

import (
	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/model"
)

// Update is one decoded push update. The set of implementations is closed; the engine switches
// over them exhaustively.
type Update interface {
	// Peer is the conversation the update touches, or model.NoPeer when it must be resolved from
	// local state (legacy deletes).
	Peer() model.PeerID
	isUpdate()
}

// NewMessage delivers a message that was just sent in a conversation.
type NewMessage struct {
	Message *model.Message
}

// MessageID binds the correlation id of an outgoing message to its server id. The local id is
// derived later from the pending record, which knows the peer.
type MessageID struct {
	ServerID int32
	RandomID int64
}

// EditMessage replaces a stored message.
type EditMessage struct {
	Message *model.Message
}

// DeleteMessages removes messages. Peer is unset for legacy-scoped deletes.
type DeleteMessages struct {
	PeerID model.PeerID
	IDs    []int64
}

// ReadHistory moves an inbox or outbox read watermark, optionally inside a thread.
type ReadHistory struct {
	PeerID      model.PeerID
	MaxID       int64
	ThreadID    int64
	Outbox      bool
	StillUnread *int32
}

// ReadMessagesContents marks media of messages as consumed.
type ReadMessagesContents struct {
	PeerID   model.PeerID
	IDs      []int64
	ThreadID int64
}

// MessageReactions replaces a message's reaction summary.
type MessageReactions struct {
	PeerID    model.PeerID
	ID        int64
	Reactions *model.Reactions
}

// PinnedMessages toggles the pinned flag of messages.
type PinnedMessages struct {
	PeerID model.PeerID
	IDs    []int64
	Pinned bool
}

// DialogPinned toggles a dialog's pinned flag.
type DialogPinned struct {
	PeerID model.PeerID
	Pinned bool
}

// DialogUnreadMark toggles a dialog's manual unread mark.
type DialogUnreadMark struct {
	PeerID model.PeerID
	Unread bool
}

// Channel reports a membership or access change of a channel.
type Channel struct {
	PeerID model.PeerID
	Chat   *v1.Chat
}

// ChannelAvailableMessages hides every message up to AvailableMinID.
type ChannelAvailableMessages struct {
	PeerID         model.PeerID
	AvailableMinID int64
}

// NewScheduledMessage stores a scheduled message.
type NewScheduledMessage struct {
	Message *model.Message
}

// DeleteScheduledMessages removes scheduled messages.
type DeleteScheduledMessages struct {
	PeerID model.PeerID
	IDs    []int64
}

// MessageViews carries a new view counter.
type MessageViews struct {
	PeerID model.PeerID
	ID     int64
	Views  int32
}

// DraftMessage replaces or clears a draft.
type DraftMessage struct {
	PeerID model.PeerID
	Draft  *model.Draft
}

// NotifySettings changes a peer's mute state.
type NotifySettings struct {
	PeerID    model.PeerID
	MuteUntil int64
}

// ChannelTooLong tells the client it fell too far behind on a channel.
type ChannelTooLong struct {
	PeerID model.PeerID
}

func (u NewMessage) Peer() model.PeerID               { return u.Message.PeerID }
func (MessageID) Peer() model.PeerID                  { return model.NoPeer }
func (u EditMessage) Peer() model.PeerID              { return u.Message.PeerID }
func (u DeleteMessages) Peer() model.PeerID           { return u.PeerID }
func (u ReadHistory) Peer() model.PeerID              { return u.PeerID }
func (u ReadMessagesContents) Peer() model.PeerID     { return u.PeerID }
func (u MessageReactions) Peer() model.PeerID         { return u.PeerID }
func (u PinnedMessages) Peer() model.PeerID           { return u.PeerID }
func (u DialogPinned) Peer() model.PeerID             { return u.PeerID }
func (u DialogUnreadMark) Peer() model.PeerID         { return u.PeerID }
func (u Channel) Peer() model.PeerID                  { return u.PeerID }
func (u ChannelAvailableMessages) Peer() model.PeerID { return u.PeerID }
func (u NewScheduledMessage) Peer() model.PeerID      { return u.Message.PeerID }
func (u DeleteScheduledMessages) Peer() model.PeerID  { return u.PeerID }
func (u MessageViews) Peer() model.PeerID             { return u.PeerID }
func (u DraftMessage) Peer() model.PeerID             { return u.PeerID }
func (u NotifySettings) Peer() model.PeerID           { return u.PeerID }
func (u ChannelTooLong) Peer() model.PeerID           { return u.PeerID }

func (NewMessage) isUpdate()               {}
func (MessageID) isUpdate()                {}
func (EditMessage) isUpdate()              {}
func (DeleteMessages) isUpdate()           {}
func (ReadHistory) isUpdate()              {}
func (ReadMessagesContents) isUpdate()     {}
func (MessageReactions) isUpdate()         {}
func (PinnedMessages) isUpdate()           {}
func (DialogPinned) isUpdate()             {}
func (DialogUnreadMark) isUpdate()         {}
func (Channel) isUpdate()                  {}
func (ChannelAvailableMessages) isUpdate() {}
func (NewScheduledMessage) isUpdate()      {}
func (DeleteScheduledMessages) isUpdate()  {}
func (MessageViews) isUpdate()             {}
func (DraftMessage) isUpdate()             {}
func (NotifySettings) isUpdate()           {}
func (ChannelTooLong) isUpdate()           {}
