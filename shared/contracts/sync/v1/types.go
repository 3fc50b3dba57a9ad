package v1

// Peer ids on the wire follow one convention: users are positive, basic groups and
// channels are negative. Message ids are server ids, scoped to the channel for channel
// peers and to the account otherwise.

// Message is a server-confirmed message (regular or service).
type Message struct {
	ID       int32  `json:"id"`
	PeerID   int64  `json:"peer_id"`
	FromID   int64  `json:"from_id,omitempty"`
	Date     int64  `json:"date"`
	EditDate int64  `json:"edit_date,omitempty"`
	Text     string `json:"message,omitempty"`

	Media  *Media  `json:"media,omitempty"`
	Action *Action `json:"action,omitempty"`

	ReplyTo     *ReplyHeader `json:"reply_to,omitempty"`
	FwdFrom     *FwdHeader   `json:"fwd_from,omitempty"`
	GroupedID   string       `json:"grouped_id,omitempty"`
	Views       int32        `json:"views,omitempty"`
	Reactions   *Reactions   `json:"reactions,omitempty"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup,omitempty"`

	Out         bool `json:"out,omitempty"`
	Unread      bool `json:"unread,omitempty"`
	Mentioned   bool `json:"mentioned,omitempty"`
	MediaUnread bool `json:"media_unread,omitempty"`
	Pinned      bool `json:"pinned,omitempty"`
	Silent      bool `json:"silent,omitempty"`
	Scheduled   bool `json:"from_scheduled,omitempty"`
	Empty       bool `json:"empty,omitempty"`
}

// Media is an opaque media payload; the engine hands it to a media manager.
type Media struct {
	Kind string            `json:"kind"`
	ID   string            `json:"id,omitempty"`
	Attr map[string]string `json:"attr,omitempty"`
}

// Action is the payload of a service message.
type Action struct {
	Kind          string `json:"kind"`
	Title         string `json:"title,omitempty"`
	MigratedTo    int64  `json:"migrated_to,omitempty"`
	MigratedFrom  int64  `json:"migrated_from,omitempty"`
	ClearHistory  bool   `json:"clear_history,omitempty"`
	PinnedMessage int32  `json:"pinned_message,omitempty"`
}

// ReplyHeader references the replied-to message and, for threads, the thread root.
type ReplyHeader struct {
	ReplyToMsgID int32 `json:"reply_to_msg_id"`
	ReplyToPeer  int64 `json:"reply_to_peer_id,omitempty"`
	TopMsgID     int32 `json:"reply_to_top_id,omitempty"`
	ForumTopic   bool  `json:"forum_topic,omitempty"`
}

// FwdHeader describes the origin of a forwarded message.
type FwdHeader struct {
	FromID      int64 `json:"from_id,omitempty"`
	Date        int64 `json:"date"`
	ChannelPost int32 `json:"channel_post,omitempty"`
}

// Reactions is the reaction summary of a message.
type Reactions struct {
	Results []ReactionCount `json:"results"`
	Recent  []PeerReaction  `json:"recent_reactions,omitempty"`
}

// ReactionCount is one reaction with its counter.
type ReactionCount struct {
	Reaction string `json:"reaction"`
	Count    int32  `json:"count"`
	Chosen   bool   `json:"chosen,omitempty"`
}

// PeerReaction is a recent reaction left by a peer.
type PeerReaction struct {
	PeerID   int64  `json:"peer_id"`
	Reaction string `json:"reaction"`
}

// ReplyMarkup is a bot keyboard attached to a message.
type ReplyMarkup struct {
	Kind   string     `json:"kind"`
	Rows   [][]string `json:"rows,omitempty"`
	Single bool       `json:"single_use,omitempty"`
}

// Draft is a saved, unsent message.
type Draft struct {
	Message      string `json:"message"`
	ReplyToMsgID int32  `json:"reply_to_msg_id,omitempty"`
	Date         int64  `json:"date"`
}

// Dialog is the server's summary of a conversation.
type Dialog struct {
	PeerID              int64  `json:"peer_id"`
	TopMessage          int32  `json:"top_message"`
	ReadInboxMaxID      int32  `json:"read_inbox_max_id"`
	ReadOutboxMaxID     int32  `json:"read_outbox_max_id"`
	UnreadCount         int32  `json:"unread_count"`
	UnreadMentionsCount int32  `json:"unread_mentions_count"`
	UnreadMark          bool   `json:"unread_mark,omitempty"`
	Pinned              bool   `json:"pinned,omitempty"`
	MuteUntil           int64  `json:"mute_until,omitempty"`
	Pts                 int32  `json:"pts,omitempty"`
	FolderID            int32  `json:"folder_id,omitempty"`
	Draft               *Draft `json:"draft,omitempty"`
}

// Chat describes a group or channel peer; sent alongside results that mention it.
type Chat struct {
	PeerID       int64  `json:"peer_id"`
	Kind         string `json:"kind"` // "chat", "channel", "broadcast"
	Title        string `json:"title,omitempty"`
	MigratedTo   int64  `json:"migrated_to,omitempty"`
	MigratedFrom int64  `json:"migrated_from,omitempty"`
	Forum        bool   `json:"forum,omitempty"`
	Left         bool   `json:"left,omitempty"`
	Forbidden    bool   `json:"forbidden,omitempty"`
	Username     string `json:"username,omitempty"`
}
