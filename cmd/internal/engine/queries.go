package engine

import (
	"context"
	"fmt"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/store"
)

// GetMessage returns a copy of a stored history or scheduled message.
func (m *Manager) GetMessage(peer model.PeerID, id int64) (*model.Message, error) {
	m.mu.Lock()
	defer m.unlock()

	msg := m.message(peer, id)
	if msg == nil {
		msg = m.store.Get(store.Scheduled(peer), id)
	}
	if msg == nil {
		return nil, opErr("engine.GetMessage", ErrNotFound, "message %d in %d", id, peer)
	}
	return msg.Clone(), nil
}

// GetDialog returns a copy of peer's dialog.
func (m *Manager) GetDialog(peer model.PeerID) (*model.Dialog, error) {
	m.mu.Lock()
	defer m.unlock()

	d := m.dialogs.Get(peer)
	if d == nil {
		return nil, opErr("engine.GetDialog", ErrNotFound, "dialog %d", peer)
	}
	return copyDialog(d), nil
}

// Dialogs returns copies of every dialog, pinned first, then newest first.
func (m *Manager) Dialogs() []*model.Dialog {
	m.mu.Lock()
	defer m.unlock()

	list := m.dialogs.List()
	out := make([]*model.Dialog, len(list))
	for i, d := range list {
		out[i] = copyDialog(d)
	}
	return out
}

func copyDialog(d *model.Dialog) *model.Dialog {
	cp := *d
	if d.Draft != nil {
		dr := *d.Draft
		cp.Draft = &dr
	}
	return &cp
}

// TotalUnread returns the unread badge: unread messages of unmuted dialogs.
func (m *Manager) TotalUnread() int64 {
	m.mu.Lock()
	defer m.unlock()
	return m.dialogs.TotalUnread()
}

// PinnedInfo returns the number of pinned messages of peer and the newest of them.
func (m *Manager) PinnedInfo(ctx context.Context, peer model.PeerID) (PinnedInfo, error) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return PinnedInfo{}, ErrClosed
	}
	if info, ok := m.pinned[peer]; ok {
		return info, nil
	}

	tok := m.live.Token(ctx, peer)
	res, err := m.request(tok, HistoryQuery{Peer: peer, Limit: 1, Filter: v1.FilterPinned})
	if err != nil {
		return PinnedInfo{}, err
	}
	info := PinnedInfo{Count: res.total()}
	if len(res.ids) > 0 {
		info.MaxID = res.ids[0]
	}
	m.pinned[peer] = info
	return info, nil
}

// UnreadMentionCursor returns the oldest unread mention of peer and advances past it. It returns 0
// once every mention was handed out.
func (m *Manager) UnreadMentionCursor(ctx context.Context, peer model.PeerID) (int64, error) {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return 0, ErrClosed
	}

	arr := m.mentions[peer]
	if arr == nil {
		arr = history.NewSlicedArray()
		m.mentions[peer] = arr
	}

	// the first slice is top-ended once every unread mention is loaded
	if !arr.First().IsEnd(history.EndTop) && arr.Len() < mentionsPrefill {
		offset := int32(1)
		if newest := arr.First().Newest(); newest != 0 {
			offset = ids.ServerID(newest)
		}
		req := v1.GetUnreadMentionsRequest{
			PeerID:    int64(peer),
			OffsetID:  offset,
			AddOffset: -mentionsPage,
			Limit:     mentionsPage,
		}

		tok := m.live.Token(ctx, peer)
		var out v1.MessagesResponse
		m.suspend()
		err := m.rpc.Invoke(tok.Context(), v1.MethodGetUnreadMentions, req, &out)
		m.resume()
		if err != nil {
			return 0, fmt.Errorf("engine.UnreadMentionCursor: %w", err)
		}
		if err := tok.Err(); err != nil {
			return 0, err
		}

		m.peers.Observe(out.Chats...)
		m.saveMessages(out.Messages)
		// the map entry may have been replaced while the lock was released
		arr = m.mentions[peer]
		if arr == nil {
			arr = history.NewSlicedArray()
			m.mentions[peer] = arr
		}
		page := make([]int64, 0, len(out.Messages))
		for _, raw := range out.Messages {
			if id := m.decoder.LocalID(model.PeerID(raw.PeerID), raw.ID); id != 0 {
				page = append(page, id)
			}
		}
		arr.Insert(page)
		if len(out.Messages) < mentionsPage {
			arr.First().SetEnd(history.EndTop)
		}
	}

	last := arr.Last()
	if last.Len() == 0 {
		m.checkUnreadConsistency(peer)
		return 0, nil
	}
	id := last.Oldest()
	arr.Delete(id)
	return id, nil
}

// SearchCounters counts peer's messages per search filter. Results are cached briefly and dropped
// when messages of peer are deleted.
func (m *Manager) SearchCounters(ctx context.Context, peer model.PeerID, filters []string) ([]v1.SearchCounter, error) {
	if peer == model.NoPeer || len(filters) == 0 {
		return nil, opErr("engine.SearchCounters", ErrInvalidInput, "peer and filters are required")
	}
	var out []v1.SearchCounter
	req := v1.GetSearchCountersRequest{PeerID: int64(peer), Filters: filters}
	if err := m.rpc.InvokeCached(ctx, v1.MethodGetSearchCounters, req, &out, m.cfg.SearchCountersTTL); err != nil {
		return nil, fmt.Errorf("engine.SearchCounters: %w", err)
	}
	return out, nil
}
