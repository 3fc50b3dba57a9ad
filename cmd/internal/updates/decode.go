package updates

import (
	"encoding/json"
	"errors"
	"fmt"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/media"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/peers"
)

// ErrUnknownKind is returned for update kinds this client does not handle.
var ErrUnknownKind = errors.New("updates: unknown kind")

// Decoder converts wire messages and update frames into local form.
type Decoder struct {
	ids   *ids.Mapper
	peers peers.Resolver
	media media.Manager
}

// NewDecoder constructs a Decoder. m may be nil, in which case media handles keep only the kind.
func NewDecoder(mapper *ids.Mapper, r peers.Resolver, m media.Manager) *Decoder {
	return &Decoder{ids: mapper, peers: r, media: m}
}

// LocalID maps a server id of peer to its local id.
func (d *Decoder) LocalID(peer model.PeerID, serverID int32) int64 {
	return d.ids.LocalID(serverID, d.peers.ChannelID(peer))
}

// LocalIDs maps a list of server ids of peer.
func (d *Decoder) LocalIDs(peer model.PeerID, serverIDs []int32) []int64 {
	ch := d.peers.ChannelID(peer)
	out := make([]int64, 0, len(serverIDs))
	for _, id := range serverIDs {
		if l := d.ids.LocalID(id, ch); l != 0 {
			out = append(out, l)
		}
	}
	return out
}

func (d *Decoder) channelLocalIDs(channelID int64, serverIDs []int32) []int64 {
	out := make([]int64, 0, len(serverIDs))
	for _, id := range serverIDs {
		if l := d.ids.LocalID(id, channelID); l != 0 {
			out = append(out, l)
		}
	}
	return out
}

// Message converts a wire message. channelID overrides the resolver when the frame names the
// channel explicitly; pass 0 otherwise.
func (d *Decoder) Message(raw v1.Message, channelID int64) *model.Message {
	peer := model.PeerID(raw.PeerID)
	if channelID == 0 {
		channelID = d.peers.ChannelID(peer)
	}

	m := &model.Message{
		Kind:        model.KindRegular,
		ID:          d.ids.LocalID(raw.ID, channelID),
		ServerID:    raw.ID,
		PeerID:      peer,
		FromID:      model.PeerID(raw.FromID),
		Date:        raw.Date,
		EditDate:    raw.EditDate,
		Text:        raw.Text,
		GroupedID:   raw.GroupedID,
		Views:       raw.Views,
		Reactions:   model.CloneReactions(raw.Reactions),
		ReplyMarkup: raw.ReplyMarkup,
	}
	if raw.Action != nil {
		a := *raw.Action
		m.Kind = model.KindService
		m.Action = &a
	}
	if raw.Media != nil {
		if d.media != nil {
			m.Media = d.media.Save(*raw.Media)
		} else {
			m.Media = &model.MediaHandle{Kind: raw.Media.Kind}
		}
	}
	if rt := raw.ReplyTo; rt != nil {
		replyPeer, replyChannel := peer, channelID
		if rt.ReplyToPeer != 0 {
			replyPeer = model.PeerID(rt.ReplyToPeer)
			replyChannel = d.peers.ChannelID(replyPeer)
		}
		m.ReplyTo = &model.ReplyTo{
			MsgID:      d.ids.LocalID(rt.ReplyToMsgID, replyChannel),
			PeerID:     replyPeer,
			TopID:      d.ids.LocalID(rt.TopMsgID, channelID),
			ForumTopic: rt.ForumTopic,
		}
	}
	if f := raw.FwdFrom; f != nil {
		m.FwdFrom = &model.FwdFrom{FromID: model.PeerID(f.FromID), Date: f.Date, ChannelPost: f.ChannelPost}
	}

	flags := model.Flags(0).
		With(model.FlagOut, raw.Out).
		With(model.FlagUnread, raw.Unread).
		With(model.FlagMentioned, raw.Mentioned).
		With(model.FlagMediaUnread, raw.MediaUnread).
		With(model.FlagPinned, raw.Pinned).
		With(model.FlagSilent, raw.Silent).
		With(model.FlagEdited, raw.EditDate != 0)
	m.Flags = flags
	return m
}

// Decode converts one frame.
func (d *Decoder) Decode(f v1.UpdateFrame) (Update, error) {
	channelPeer := model.NoPeer
	if f.ChannelID != 0 {
		channelPeer = model.PeerID(-f.ChannelID)
	}

	switch f.Kind {
	case v1.UpdateNewMessage, v1.UpdateNewChannelMessage:
		var data v1.MessageData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return NewMessage{Message: d.Message(data.Message, d.frameChannel(f, data.Message))}, nil

	case v1.UpdateEditMessage, v1.UpdateEditChannelMessage:
		var data v1.MessageData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return EditMessage{Message: d.Message(data.Message, d.frameChannel(f, data.Message))}, nil

	case v1.UpdateNewScheduledMessage:
		var data v1.MessageData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		m := d.Message(data.Message, f.ChannelID)
		m.Flags = m.Flags.With(model.FlagScheduled, true)
		return NewScheduledMessage{Message: m}, nil

	case v1.UpdateMessageID:
		var data v1.MessageIDData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return MessageID{ServerID: data.ID, RandomID: data.RandomID}, nil

	case v1.UpdateDeleteMessages, v1.UpdateDeleteChannelMessages:
		var data v1.DeleteMessagesData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		if f.ChannelID != 0 {
			return DeleteMessages{PeerID: channelPeer, IDs: d.channelLocalIDs(f.ChannelID, data.Messages)}, nil
		}
		peer := model.PeerID(data.PeerID)
		return DeleteMessages{PeerID: peer, IDs: d.LocalIDs(peer, data.Messages)}, nil

	case v1.UpdateDeleteScheduledMessages:
		var data v1.DeleteMessagesData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		peer := d.peerOf(channelPeer, data.PeerID)
		return DeleteScheduledMessages{PeerID: peer, IDs: d.LocalIDs(peer, data.Messages)}, nil

	case v1.UpdateReadHistoryInbox, v1.UpdateReadHistoryOutbox,
		v1.UpdateReadChannelInbox, v1.UpdateReadChannelOutbox,
		v1.UpdateReadDiscussionInbox, v1.UpdateReadDiscussionOutbox:
		var data v1.ReadHistoryData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		peer := d.peerOf(channelPeer, data.PeerID)
		u := ReadHistory{
			PeerID:      peer,
			MaxID:       d.LocalID(peer, data.MaxID),
			ThreadID:    d.LocalID(peer, data.TopMsgID),
			StillUnread: data.StillUnreadCount,
		}
		switch f.Kind {
		case v1.UpdateReadHistoryOutbox, v1.UpdateReadChannelOutbox, v1.UpdateReadDiscussionOutbox:
			u.Outbox = true
		}
		return u, nil

	case v1.UpdateReadMessagesContents, v1.UpdateChannelReadContents:
		var data v1.ReadMessagesContentsData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		if f.ChannelID != 0 {
			return ReadMessagesContents{
				PeerID:   channelPeer,
				IDs:      d.channelLocalIDs(f.ChannelID, data.Messages),
				ThreadID: d.ids.LocalID(data.TopMsgID, f.ChannelID),
			}, nil
		}
		return ReadMessagesContents{IDs: d.channelLocalIDs(0, data.Messages)}, nil

	case v1.UpdateMessageReactions:
		var data v1.MessageReactionsData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		peer := d.peerOf(channelPeer, data.PeerID)
		return MessageReactions{
			PeerID:    peer,
			ID:        d.LocalID(peer, data.MsgID),
			Reactions: model.CloneReactions(data.Reactions),
		}, nil

	case v1.UpdatePinnedMessages, v1.UpdatePinnedChannelMessages:
		var data v1.PinnedMessagesData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		peer := d.peerOf(channelPeer, data.PeerID)
		return PinnedMessages{PeerID: peer, IDs: d.LocalIDs(peer, data.Messages), Pinned: data.Pinned}, nil

	case v1.UpdateDialogPinned:
		var data v1.DialogPinnedData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return DialogPinned{PeerID: model.PeerID(data.PeerID), Pinned: data.Pinned}, nil

	case v1.UpdateDialogUnreadMark:
		var data v1.DialogUnreadMarkData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return DialogUnreadMark{PeerID: model.PeerID(data.PeerID), Unread: data.Unread}, nil

	case v1.UpdateChannel:
		var data v1.ChannelData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return Channel{PeerID: channelPeer, Chat: data.Chat}, nil

	case v1.UpdateChannelAvailableMessages:
		var data v1.ChannelAvailableMessagesData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return ChannelAvailableMessages{
			PeerID:         channelPeer,
			AvailableMinID: d.ids.LocalID(data.AvailableMinID, f.ChannelID),
		}, nil

	case v1.UpdateMessageViews:
		var data v1.MessageViewsData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return MessageViews{PeerID: channelPeer, ID: d.ids.LocalID(data.ID, f.ChannelID), Views: data.Views}, nil

	case v1.UpdateDraftMessage:
		var data v1.DraftMessageData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		peer := model.PeerID(data.PeerID)
		u := DraftMessage{PeerID: peer}
		if data.Draft != nil {
			u.Draft = &model.Draft{
				Text:    data.Draft.Message,
				ReplyTo: d.LocalID(peer, data.Draft.ReplyToMsgID),
				Date:    data.Draft.Date,
			}
		}
		return u, nil

	case v1.UpdateNotifySettings:
		var data v1.NotifySettingsData
		if err := unmarshal(f, &data); err != nil {
			return nil, err
		}
		return NotifySettings{PeerID: model.PeerID(data.PeerID), MuteUntil: data.MuteUntil}, nil

	case v1.UpdateChannelTooLong:
		return ChannelTooLong{PeerID: channelPeer}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
}

// frameChannel picks the id scope of a message carried by f.
func (d *Decoder) frameChannel(f v1.UpdateFrame, raw v1.Message) int64 {
	if f.ChannelID != 0 {
		return f.ChannelID
	}
	if f.Kind == v1.UpdateNewChannelMessage || f.Kind == v1.UpdateEditChannelMessage {
		return model.PeerID(raw.PeerID).ChatID()
	}
	return 0
}

func (d *Decoder) peerOf(channelPeer model.PeerID, peerID int64) model.PeerID {
	if channelPeer != model.NoPeer {
		return channelPeer
	}
	return model.PeerID(peerID)
}

func unmarshal(f v1.UpdateFrame, out any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("updates: %s: empty data", f.Kind)
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return fmt.Errorf("updates: %s: %w", f.Kind, err)
	}
	return nil
}
