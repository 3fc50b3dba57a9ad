// Package model holds the in-memory data model of the sync engine: messages, dialogs and their flags.
package model

import (
	"strconv"

	v1 "chatsync/shared/contracts/sync/v1"
)

// PeerID identifies a conversation endpoint. Users are positive; basic groups and channels are negative.
type PeerID int64

// IsUser reports whether p is a user peer.
func (p PeerID) IsUser() bool { return p > 0 }

// IsAnyChat reports whether p is a basic group or a channel.
func (p PeerID) IsAnyChat() bool { return p < 0 }

// ChatID returns the positive chat/channel id of a chat peer.
func (p PeerID) ChatID() int64 {
	if p < 0 {
		return int64(-p)
	}
	return int64(p)
}

func (p PeerID) String() string { return strconv.FormatInt(int64(p), 10) }

// NoPeer is the zero peer.
const NoPeer PeerID = 0

// Kind tags the Message variant.
type Kind uint8

const (
	KindRegular Kind = iota
	KindService
)

// Flags is the message flag set.
type Flags uint32

const (
	FlagOut Flags = 1 << iota
	FlagUnread
	FlagMentioned
	FlagMediaUnread
	FlagPinned
	FlagEdited
	FlagSilent
	FlagScheduled
	FlagPending
	FlagIsOutgoing
	FlagError
	FlagLocal
)

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// With returns f with x set or cleared.
func (f Flags) With(x Flags, on bool) Flags {
	if on {
		return f | x
	}
	return f &^ x
}

type (
	Reactions   = v1.Reactions
	ReplyMarkup = v1.ReplyMarkup
	Action      = v1.Action
)

// MediaHandle is a locally addressable media reference returned by a media manager.
type MediaHandle struct {
	Kind string
	Ref  string
	Attr map[string]string
}

// ReplyTo references the replied-to message by local id.
type ReplyTo struct {
	MsgID      int64
	PeerID     PeerID
	TopID      int64
	ForumTopic bool
}

// FwdFrom describes the origin of a forwarded message.
type FwdFrom struct {
	FromID      PeerID
	Date        int64
	ChannelPost int32
}

// Message is one message. ID is the local id; ServerID is zero until the server confirms it.
type Message struct {
	Kind     Kind
	ID       int64
	ServerID int32
	PeerID   PeerID
	FromID   PeerID
	Date     int64
	EditDate int64
	Text     string

	Media  *MediaHandle
	Action *Action

	ReplyTo     *ReplyTo
	FwdFrom     *FwdFrom
	GroupedID   string
	Views       int32
	Reactions   *Reactions
	ReplyMarkup *ReplyMarkup

	Flags Flags

	// RandomID is the correlation id of an outgoing message until it is confirmed.
	RandomID int64
	// SendError holds the failure of a send that ended in FlagError.
	SendError string
}

// IsOut reports whether the message was sent by this account.
func (m *Message) IsOut() bool { return m != nil && m.Flags.Has(FlagOut) }

// IsUnread reports whether the message is unread.
func (m *Message) IsUnread() bool { return m != nil && m.Flags.Has(FlagUnread) }

// ThreadID returns the local id of the thread root, or 0.
func (m *Message) ThreadID() int64 {
	if m == nil || m.ReplyTo == nil {
		return 0
	}
	if m.ReplyTo.TopID != 0 {
		return m.ReplyTo.TopID
	}
	if m.ReplyTo.ForumTopic {
		return m.ReplyTo.MsgID
	}
	return 0
}

// Clone returns a copy that shares no mutable pointers with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Media != nil {
		md := *m.Media
		cp.Media = &md
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		cp.ReplyTo = &r
	}
	if m.FwdFrom != nil {
		f := *m.FwdFrom
		cp.FwdFrom = &f
	}
	if m.Reactions != nil {
		r := CloneReactions(m.Reactions)
		cp.Reactions = r
	}
	return &cp
}

// CloneReactions deep-copies a reaction summary.
func CloneReactions(r *Reactions) *Reactions {
	if r == nil {
		return nil
	}
	out := &Reactions{
		Results: append([]v1.ReactionCount(nil), r.Results...),
		Recent:  append([]v1.PeerReaction(nil), r.Recent...),
	}
	return out
}

// Draft is an unsent message saved for a peer.
type Draft struct {
	Text    string
	ReplyTo int64
	Date    int64
}

// Dialog is a conversation summary. TopMessage and the read watermarks are local ids.
type Dialog struct {
	PeerID              PeerID
	TopMessage          int64
	ReadInboxMaxID      int64
	ReadOutboxMaxID     int64
	UnreadCount         int32
	UnreadMentionsCount int32
	UnreadMark          bool
	Pinned              bool
	MuteUntil           int64
	FolderID            int32
	Pts                 int32
	Draft               *Draft

	// Index orders the dialog list, newest first.
	Index int64
}

// IsMuted reports whether notifications are muted at unix time now.
func (d *Dialog) IsMuted(now int64) bool {
	return d != nil && d.MuteUntil > now
}
