package v1

import "encoding/json"

// Update kinds (wire-stable).
const (
	UpdateNewMessage               = "new_message"
	UpdateNewChannelMessage        = "new_channel_message"
	UpdateMessageID                = "message_id"
	UpdateEditMessage              = "edit_message"
	UpdateEditChannelMessage       = "edit_channel_message"
	UpdateDeleteMessages           = "delete_messages"
	UpdateDeleteChannelMessages    = "delete_channel_messages"
	UpdateReadHistoryInbox         = "read_history_inbox"
	UpdateReadHistoryOutbox        = "read_history_outbox"
	UpdateReadChannelInbox         = "read_channel_inbox"
	UpdateReadChannelOutbox        = "read_channel_outbox"
	UpdateReadDiscussionInbox      = "read_channel_discussion_inbox"
	UpdateReadDiscussionOutbox     = "read_channel_discussion_outbox"
	UpdateReadMessagesContents     = "read_messages_contents"
	UpdateChannelReadContents      = "channel_read_messages_contents"
	UpdateMessageReactions         = "message_reactions"
	UpdatePinnedMessages           = "pinned_messages"
	UpdatePinnedChannelMessages    = "pinned_channel_messages"
	UpdateDialogPinned             = "dialog_pinned"
	UpdateDialogUnreadMark         = "dialog_unread_mark"
	UpdateChannel                  = "channel"
	UpdateChannelAvailableMessages = "channel_available_messages"
	UpdateNewScheduledMessage      = "new_scheduled_message"
	UpdateDeleteScheduledMessages  = "delete_scheduled_messages"
	UpdateMessageViews             = "channel_message_views"
	UpdateDraftMessage             = "draft_message"
	UpdateNotifySettings           = "notify_settings"
	UpdateChannelTooLong           = "channel_too_long"
)

// UpdatesPayload is a batch of updates. Sends answer with one as their RPC result.
type UpdatesPayload struct {
	Updates []UpdateFrame `json:"updates"`
	Chats   []Chat        `json:"chats,omitempty"`
	Seq     int32         `json:"seq,omitempty"`
	Date    int64         `json:"date,omitempty"`
}

// UpdateFrame is one update. Pts/PtsCount order the updates of one channel
// (ChannelID != 0) or of the common box (ChannelID == 0).
type UpdateFrame struct {
	Kind      string          `json:"kind"`
	ChannelID int64           `json:"channel_id,omitempty"`
	Pts       int32           `json:"pts,omitempty"`
	PtsCount  int32           `json:"pts_count,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// MessageData carries a message for new/edit/scheduled updates.
type MessageData struct {
	Message Message `json:"message"`
}

// MessageIDData binds a client correlation id to the confirmed server id.
type MessageIDData struct {
	ID       int32 `json:"id"`
	RandomID int64 `json:"random_id"`
}

// DeleteMessagesData lists deleted server ids.
type DeleteMessagesData struct {
	PeerID   int64   `json:"peer_id,omitempty"`
	Messages []int32 `json:"messages"`
}

// ReadHistoryData moves a read watermark.
type ReadHistoryData struct {
	PeerID           int64  `json:"peer_id,omitempty"`
	MaxID            int32  `json:"max_id"`
	TopMsgID         int32  `json:"top_msg_id,omitempty"`
	StillUnreadCount *int32 `json:"still_unread_count,omitempty"`
}

// ReadMessagesContentsData marks media of messages as consumed.
type ReadMessagesContentsData struct {
	Messages []int32 `json:"messages"`
	TopMsgID int32   `json:"top_msg_id,omitempty"`
}

// MessageReactionsData replaces a message's reaction summary.
type MessageReactionsData struct {
	PeerID    int64      `json:"peer_id"`
	MsgID     int32      `json:"msg_id"`
	Reactions *Reactions `json:"reactions"`
}

// PinnedMessagesData toggles the pinned flag of messages.
type PinnedMessagesData struct {
	PeerID   int64   `json:"peer_id,omitempty"`
	Messages []int32 `json:"messages"`
	Pinned   bool    `json:"pinned"`
}

// DialogPinnedData toggles the pinned flag of a dialog.
type DialogPinnedData struct {
	PeerID int64 `json:"peer_id"`
	Pinned bool  `json:"pinned"`
}

// DialogUnreadMarkData toggles the manual unread mark of a dialog.
type DialogUnreadMarkData struct {
	PeerID int64 `json:"peer_id"`
	Unread bool  `json:"unread"`
}

// ChannelData reports a membership or availability change of a channel.
type ChannelData struct {
	Chat *Chat `json:"chat,omitempty"`
}

// ChannelAvailableMessagesData hides every channel message up to AvailableMinID.
type ChannelAvailableMessagesData struct {
	AvailableMinID int32 `json:"available_min_id"`
}

// MessageViewsData carries a new view counter.
type MessageViewsData struct {
	ID    int32 `json:"id"`
	Views int32 `json:"views"`
}

// DraftMessageData replaces (or clears, when Draft is nil) a peer's draft.
type DraftMessageData struct {
	PeerID int64  `json:"peer_id"`
	Draft  *Draft `json:"draft,omitempty"`
}

// NotifySettingsData changes a peer's mute state.
type NotifySettingsData struct {
	PeerID    int64 `json:"peer_id"`
	MuteUntil int64 `json:"mute_until"`
}
