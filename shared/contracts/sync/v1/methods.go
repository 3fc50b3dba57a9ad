package v1

// RPC method names (wire-stable).
const (
	MethodGetHistory          = "messages.getHistory"
	MethodGetReplies          = "messages.getReplies"
	MethodSearch              = "messages.search"
	MethodGetMessages         = "messages.getMessages"
	MethodGetPeerDialogs      = "messages.getPeerDialogs"
	MethodGetScheduledHistory = "messages.getScheduledHistory"
	MethodGetSearchCounters   = "messages.getSearchCounters"
	MethodGetUnreadMentions   = "messages.getUnreadMentions"
	MethodSendMessage         = "messages.sendMessage"
	MethodSendMedia           = "messages.sendMedia"
	MethodSendMultiMedia      = "messages.sendMultiMedia"
	MethodForwardMessages     = "messages.forwardMessages"
	MethodEditMessage         = "messages.editMessage"
	MethodDeleteMessages      = "messages.deleteMessages"
	MethodDeleteScheduled     = "messages.deleteScheduledMessages"
	MethodReadHistory         = "messages.readHistory"
	MethodUpdatePinned        = "messages.updatePinnedMessage"
	MethodToggleDialogPin     = "messages.toggleDialogPin"
	MethodDeleteHistory       = "messages.deleteHistory"
	MethodSaveDraft           = "messages.saveDraft"
	MethodUpdateNotify        = "account.updateNotifySettings"
)

// Search filters understood by messages.search and messages.getSearchCounters.
const (
	FilterPinned     = "pinned"
	FilterPhotoVideo = "photo_video"
	FilterDocument   = "document"
	FilterURL        = "url"
	FilterVoice      = "voice"
	FilterMusic      = "music"
)

// GetHistoryRequest pages a peer's history (or a thread's when TopMsgID is set).
// Filter restricts messages.search to one media kind.
type GetHistoryRequest struct {
	PeerID    int64  `json:"peer_id"`
	OffsetID  int32  `json:"offset_id"`
	AddOffset int    `json:"add_offset"`
	Limit     int    `json:"limit"`
	MaxID     int32  `json:"max_id,omitempty"`
	MinID     int32  `json:"min_id,omitempty"`
	TopMsgID  int32  `json:"top_msg_id,omitempty"`
	Filter    string `json:"filter,omitempty"`
}

// MessagesResponse is the result of every history-like call.
// Count is nil when the server returned the whole history (no slice).
type MessagesResponse struct {
	Messages       []Message `json:"messages"`
	Chats          []Chat    `json:"chats,omitempty"`
	Count          *int32    `json:"count,omitempty"`
	OffsetIDOffset *int32    `json:"offset_id_offset,omitempty"`
	Pts            int32     `json:"pts,omitempty"`
}

// GetMessagesRequest fetches specific messages by id.
type GetMessagesRequest struct {
	PeerID int64   `json:"peer_id"`
	IDs    []int32 `json:"ids"`
}

// GetUnreadMentionsRequest pages the unread mentions of a peer.
type GetUnreadMentionsRequest struct {
	PeerID    int64 `json:"peer_id"`
	OffsetID  int32 `json:"offset_id"`
	AddOffset int   `json:"add_offset"`
	Limit     int   `json:"limit"`
	TopMsgID  int32 `json:"top_msg_id,omitempty"`
}

// GetSearchCountersRequest counts a peer's messages per search filter.
type GetSearchCountersRequest struct {
	PeerID   int64    `json:"peer_id"`
	Filters  []string `json:"filters"`
	TopMsgID int32    `json:"top_msg_id,omitempty"`
}

// SearchCounter is the number of messages matching one filter.
type SearchCounter struct {
	Filter  string `json:"filter"`
	Count   int32  `json:"count"`
	Inexact bool   `json:"inexact,omitempty"`
}

// GetPeerDialogsRequest reloads the dialogs of the given peers.
type GetPeerDialogsRequest struct {
	PeerIDs []int64 `json:"peer_ids"`
}

// PeerDialogsResponse carries dialogs and their top messages.
type PeerDialogsResponse struct {
	Dialogs  []Dialog  `json:"dialogs"`
	Messages []Message `json:"messages"`
	Chats    []Chat    `json:"chats,omitempty"`
}

// SendMessageRequest sends a text message. RandomID is the client correlation id.
type SendMessageRequest struct {
	PeerID       int64  `json:"peer_id"`
	Message      string `json:"message"`
	RandomID     int64  `json:"random_id"`
	ReplyToMsgID int32  `json:"reply_to_msg_id,omitempty"`
	TopMsgID     int32  `json:"top_msg_id,omitempty"`
	Silent       bool   `json:"silent,omitempty"`
	NoWebpage    bool   `json:"no_webpage,omitempty"`
	ClearDraft   bool   `json:"clear_draft,omitempty"`
	ScheduleDate int64  `json:"schedule_date,omitempty"`
}

// SendMediaRequest sends one media message.
type SendMediaRequest struct {
	PeerID       int64  `json:"peer_id"`
	Media        Media  `json:"media"`
	Message      string `json:"message,omitempty"`
	RandomID     int64  `json:"random_id"`
	ReplyToMsgID int32  `json:"reply_to_msg_id,omitempty"`
	TopMsgID     int32  `json:"top_msg_id,omitempty"`
	Silent       bool   `json:"silent,omitempty"`
	ClearDraft   bool   `json:"clear_draft,omitempty"`
	ScheduleDate int64  `json:"schedule_date,omitempty"`
}

// MultiMediaItem is one element of an album.
type MultiMediaItem struct {
	RandomID int64  `json:"random_id"`
	Media    Media  `json:"media"`
	Message  string `json:"message,omitempty"`
}

// SendMultiMediaRequest sends an album.
type SendMultiMediaRequest struct {
	PeerID       int64            `json:"peer_id"`
	Items        []MultiMediaItem `json:"multi_media"`
	ReplyToMsgID int32            `json:"reply_to_msg_id,omitempty"`
	TopMsgID     int32            `json:"top_msg_id,omitempty"`
	Silent       bool             `json:"silent,omitempty"`
	ClearDraft   bool             `json:"clear_draft,omitempty"`
	ScheduleDate int64            `json:"schedule_date,omitempty"`
}

// ForwardMessagesRequest forwards messages between peers; RandomIDs pairs with IDs.
type ForwardMessagesRequest struct {
	FromPeerID   int64   `json:"from_peer_id"`
	ToPeerID     int64   `json:"to_peer_id"`
	IDs          []int32 `json:"ids"`
	RandomIDs    []int64 `json:"random_ids"`
	TopMsgID     int32   `json:"top_msg_id,omitempty"`
	Silent       bool    `json:"silent,omitempty"`
	DropAuthor   bool    `json:"drop_author,omitempty"`
	ScheduleDate int64   `json:"schedule_date,omitempty"`
}

// EditMessageRequest edits the text of a message.
type EditMessageRequest struct {
	PeerID       int64  `json:"peer_id"`
	ID           int32  `json:"id"`
	Message      string `json:"message"`
	NoWebpage    bool   `json:"no_webpage,omitempty"`
	ScheduleDate int64  `json:"schedule_date,omitempty"`
}

// DeleteMessagesRequest deletes messages. ChannelID is set for channel peers.
type DeleteMessagesRequest struct {
	PeerID    int64   `json:"peer_id,omitempty"`
	ChannelID int64   `json:"channel_id,omitempty"`
	IDs       []int32 `json:"ids"`
	Revoke    bool    `json:"revoke,omitempty"`
}

// ReadHistoryRequest acknowledges reading up to MaxID.
type ReadHistoryRequest struct {
	PeerID   int64 `json:"peer_id"`
	MaxID    int32 `json:"max_id"`
	TopMsgID int32 `json:"top_msg_id,omitempty"`
}

// UpdatePinnedRequest pins or unpins a message.
type UpdatePinnedRequest struct {
	PeerID    int64 `json:"peer_id"`
	ID        int32 `json:"id"`
	Unpin     bool  `json:"unpin,omitempty"`
	Silent    bool  `json:"silent,omitempty"`
	PmOneside bool  `json:"pm_oneside,omitempty"`
}

// ToggleDialogPinRequest pins or unpins a dialog in the dialog list.
type ToggleDialogPinRequest struct {
	PeerID int64 `json:"peer_id"`
	Pinned bool  `json:"pinned"`
}

// DeleteHistoryRequest flushes a peer's history. The server answers in chunks until Offset is 0.
type DeleteHistoryRequest struct {
	PeerID    int64 `json:"peer_id"`
	MaxID     int32 `json:"max_id,omitempty"`
	JustClear bool  `json:"just_clear,omitempty"`
	Revoke    bool  `json:"revoke,omitempty"`
}

// SaveDraftRequest stores a draft for a peer.
type SaveDraftRequest struct {
	PeerID       int64  `json:"peer_id"`
	Message      string `json:"message"`
	ReplyToMsgID int32  `json:"reply_to_msg_id,omitempty"`
}

// UpdateNotifyRequest changes a peer's mute state.
type UpdateNotifyRequest struct {
	PeerID    int64 `json:"peer_id"`
	MuteUntil int64 `json:"mute_until"`
}

// AffectedMessages is the result of delete/read calls.
type AffectedMessages struct {
	Pts      int32 `json:"pts"`
	PtsCount int32 `json:"pts_count"`
}

// AffectedHistory is one chunk of a history deletion.
type AffectedHistory struct {
	Pts      int32 `json:"pts"`
	PtsCount int32 `json:"pts_count"`
	Offset   int32 `json:"offset"`
}
