package app

import (
	"chatsync/cmd/internal/engine"
	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/model"
)

type draftView struct {
	Text    string `json:"text"`
	ReplyTo int64  `json:"reply_to,omitempty"`
	Date    int64  `json:"date"`
}

type dialogView struct {
	PeerID              int64      `json:"peer_id"`
	TopMessage          int64      `json:"top_message"`
	ReadInboxMaxID      int64      `json:"read_inbox_max_id"`
	ReadOutboxMaxID     int64      `json:"read_outbox_max_id"`
	UnreadCount         int32      `json:"unread_count"`
	UnreadMentionsCount int32      `json:"unread_mentions_count"`
	UnreadMark          bool       `json:"unread_mark,omitempty"`
	Pinned              bool       `json:"pinned,omitempty"`
	MuteUntil           int64      `json:"mute_until,omitempty"`
	FolderID            int32      `json:"folder_id,omitempty"`
	Draft               *draftView `json:"draft,omitempty"`
}

func newDialogView(d *model.Dialog) dialogView {
	v := dialogView{
		PeerID:              int64(d.PeerID),
		TopMessage:          d.TopMessage,
		ReadInboxMaxID:      d.ReadInboxMaxID,
		ReadOutboxMaxID:     d.ReadOutboxMaxID,
		UnreadCount:         d.UnreadCount,
		UnreadMentionsCount: d.UnreadMentionsCount,
		UnreadMark:          d.UnreadMark,
		Pinned:              d.Pinned,
		MuteUntil:           d.MuteUntil,
		FolderID:            d.FolderID,
	}
	if d.Draft != nil {
		v.Draft = &draftView{Text: d.Draft.Text, ReplyTo: d.Draft.ReplyTo, Date: d.Draft.Date}
	}
	return v
}

type messageView struct {
	ID        int64  `json:"id"`
	ServerID  int32  `json:"server_id,omitempty"`
	PeerID    int64  `json:"peer_id"`
	FromID    int64  `json:"from_id,omitempty"`
	Date      int64  `json:"date"`
	EditDate  int64  `json:"edit_date,omitempty"`
	Text      string `json:"text,omitempty"`
	Service   bool   `json:"service,omitempty"`
	Media     string `json:"media,omitempty"`
	GroupedID string `json:"grouped_id,omitempty"`
	ReplyTo   int64  `json:"reply_to,omitempty"`
	ThreadID  int64  `json:"thread_id,omitempty"`
	Views     int32  `json:"views,omitempty"`
	Out       bool   `json:"out,omitempty"`
	Unread    bool   `json:"unread,omitempty"`
	Pinned    bool   `json:"pinned,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newMessageView(m *model.Message) messageView {
	v := messageView{
		ID:        m.ID,
		ServerID:  m.ServerID,
		PeerID:    int64(m.PeerID),
		FromID:    int64(m.FromID),
		Date:      m.Date,
		EditDate:  m.EditDate,
		Text:      m.Text,
		Service:   m.Kind == model.KindService,
		GroupedID: m.GroupedID,
		ThreadID:  m.ThreadID(),
		Views:     m.Views,
		Out:       m.IsOut(),
		Unread:    m.IsUnread(),
		Pinned:    m.Flags.Has(model.FlagPinned),
		Pending:   m.Flags.Has(model.FlagPending),
		Error:     m.SendError,
	}
	if m.Media != nil {
		v.Media = m.Media.Kind
	}
	if m.ReplyTo != nil {
		v.ReplyTo = m.ReplyTo.MsgID
	}
	return v
}

type historyView struct {
	Count          int32         `json:"count"`
	IDs            []int64       `json:"ids"`
	OffsetIDOffset int           `json:"offset_id_offset"`
	TopEnd         bool          `json:"top_end"`
	BottomEnd      bool          `json:"bottom_end"`
	Messages       []messageView `json:"messages"`
}

func newHistoryView(res engine.HistoryResult) historyView {
	v := historyView{
		Count:          res.Count,
		IDs:            res.IDs,
		OffsetIDOffset: res.OffsetIDOffset,
		TopEnd:         res.End&history.EndTop != 0,
		BottomEnd:      res.End&history.EndBottom != 0,
		Messages:       make([]messageView, 0, len(res.Messages)),
	}
	if v.IDs == nil {
		v.IDs = []int64{}
	}
	for _, m := range res.Messages {
		if m != nil {
			v.Messages = append(v.Messages, newMessageView(m))
		}
	}
	return v
}
