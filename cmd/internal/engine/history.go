package engine

import (
	"context"
	"encoding/json"
	"fmt"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/liveness"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/peers"
	"chatsync/cmd/internal/transport"
	"chatsync/cmd/internal/updates"
)

// HistoryQuery selects a window of a peer's (or a thread's) history. Offsets follow the server's
// paging semantics; BackLimit additionally asks for that many messages newer than OffsetID.
type HistoryQuery struct {
	Peer      model.PeerID
	ThreadID  int64
	OffsetID  int64
	AddOffset int
	Limit     int
	BackLimit int
	// Filter runs a search restricted to one media kind; results are not cached.
	Filter string
}

// HistoryResult is one window of history, newest first.
type HistoryResult struct {
	Count          int32
	IDs            []int64
	End            history.SliceEnd
	OffsetIDOffset int
	Messages       []*model.Message
}

// fetched is one server page in local ids.
type fetched struct {
	ids            []int64
	count          *int32
	offsetIDOffset *int32
}

func (f fetched) page() history.Page {
	return history.Page{IDs: f.ids, Count: f.count, OffsetIDOffset: f.offsetIDOffset}
}

// total is the size of the history the page belongs to.
func (f fetched) total() int32 {
	if f.count != nil {
		return *f.count
	}
	return int32(len(f.ids))
}

func (f *fetched) addCount(n int32) {
	c := f.total() + n
	f.count = &c
}

func (f *fetched) addOffset(n int32) {
	var o int32
	if f.offsetIDOffset != nil {
		o = *f.offsetIDOffset
	}
	o += n
	f.offsetIDOffset = &o
}

// GetHistory returns a window of history, from the cache when it can answer and from the server
// otherwise.
func (m *Manager) GetHistory(ctx context.Context, q HistoryQuery) (HistoryResult, error) {
	if q.Peer == model.NoPeer {
		return HistoryResult{}, opErr("engine.GetHistory", ErrInvalidInput, "peer is required")
	}
	if q.Limit <= 0 {
		q.Limit = m.cfg.HistoryPage
	}
	if q.AddOffset == 0 && q.BackLimit > 0 {
		q.AddOffset = -q.BackLimit
		q.Limit += q.BackLimit
	}

	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return HistoryResult{}, ErrClosed
	}

	if !m.peers.CanViewHistory(q.Peer) {
		st := m.histories.Get(q.Peer, q.ThreadID)
		st.Count = 0
		st.History.First().SetEnd(history.EndBoth)
		return HistoryResult{End: history.EndBoth}, nil
	}

	var st *history.Storage
	if q.Filter != "" {
		st = m.histories.NewSearch(q.Peer)
	} else {
		st = m.histories.Get(q.Peer, q.ThreadID)
		if w, ok := st.History.SliceMe(q.OffsetID, q.AddOffset, q.Limit); ok && w.Served(q.Limit) {
			m.met.History("cache")
			return m.windowResult(q.Peer, st, w), nil
		}
	}

	tok := m.live.Token(ctx, q.Peer)
	res, err := m.fill(tok, q, st, false)
	if err != nil {
		return HistoryResult{}, err
	}

	if q.Filter != "" {
		out := HistoryResult{
			Count:    res.total(),
			IDs:      res.ids,
			End:      st.History.First().End,
			Messages: m.snapshot(q.Peer, res.ids),
		}
		if res.offsetIDOffset != nil {
			out.OffsetIDOffset = int(*res.offsetIDOffset)
		}
		return out, nil
	}

	// the continuation may have been reset while the lock was released
	st = m.histories.Get(q.Peer, q.ThreadID)
	w, ok := st.History.SliceMe(q.OffsetID, q.AddOffset, q.Limit)
	if !ok {
		return HistoryResult{Count: st.Count, OffsetIDOffset: int(max(st.Count, 0))}, nil
	}
	return m.windowResult(q.Peer, st, w), nil
}

func (m *Manager) windowResult(peer model.PeerID, st *history.Storage, w history.Window) HistoryResult {
	return HistoryResult{
		Count:          st.Count,
		IDs:            w.IDs,
		End:            w.End,
		OffsetIDOffset: w.OffsetIDOffset,
		Messages:       m.snapshot(peer, w.IDs),
	}
}

// fill requests one page for q, merges it into st and follows album and migration boundaries.
func (m *Manager) fill(tok liveness.Token, q HistoryQuery, st *history.Storage, recursion bool) (fetched, error) {
	wasMaxID := st.MaxID
	mig := m.peers.Migration(q.Peer)

	requestPeer := q.Peer
	if q.OffsetID != 0 && mig.Prev != model.NoPeer && ids.IsLegacy(q.OffsetID) {
		requestPeer = mig.Prev
	}
	peer := q.Peer
	if mig.Next != model.NoPeer {
		peer = mig.Next
	}
	isLegacy := requestPeer != peer

	rq := q
	rq.Peer = requestPeer
	res, err := m.request(tok, rq)
	if err != nil {
		return fetched{}, err
	}

	var link history.Migration
	if q.ThreadID == 0 {
		rm := m.peers.Migration(requestPeer)
		switch {
		case rm.Prev != model.NoPeer:
			link.HasPrev = true
		case rm.Next != model.NoPeer:
			link.NextFirstID = m.ids.FirstID(m.peers.ChannelID(rm.Next))
		}
	}
	req := history.Request{OffsetID: q.OffsetID, AddOffset: q.AddOffset, Limit: q.Limit}
	merged := history.Merge(st.History, req, res.page(), link)
	if !isLegacy {
		st.Count = merged.Count
	}

	if q.Filter == "" {
		for _, id := range res.ids {
			st.MergeReplyMarkup(m.message(requestPeer, id))
		}

		if merged.IsBottomEnd && st.MaxID == wasMaxID && merged.Slice.Len() > 0 {
			if first := st.History.First(); first != merged.Slice {
				st.History.DeleteSlice(first)
			}
			if newMax := merged.Slice.Newest(); st.MaxID != newMax {
				prev := st.MaxID
				st.MaxID = newMax
				// the cached top message is gone; the dialog must learn its new top
				if prev != 0 {
					m.scheduleReload(peer)
				}
			}
		}

		if err := m.fillAlbums(tok, q, st, res, merged.Ends); err != nil {
			return fetched{}, err
		}
	}

	if q.ThreadID != 0 {
		return res, nil
	}

	if mig == (peers.Migration{}) {
		mig = m.peers.Migration(peer)
	}
	switch {
	case mig.Prev != model.NoPeer && merged.TopWant > merged.TopLoaded && !merged.IsTopEnd:
		toLoad := merged.TopWant - merged.TopLoaded
		sub, err := m.fill(tok, HistoryQuery{Peer: mig.Prev, Limit: toLoad, Filter: q.Filter}, st, true)
		if err != nil {
			return fetched{}, err
		}
		res.ids = append(res.ids, sub.ids...)
		res.addCount(sub.total())
		if !isLegacy && q.Filter == "" {
			st.Count = res.total()
		}

	case (mig.Next != model.NoPeer || isLegacy) && merged.BottomWant > merged.BottomLoaded && !merged.IsBottomEnd:
		toLoad := merged.BottomWant - merged.BottomLoaded
		sub, err := m.fill(tok, HistoryQuery{
			Peer:      peer,
			OffsetID:  m.ids.FirstID(m.peers.ChannelID(peer)),
			Limit:     toLoad,
			AddOffset: -toLoad,
			Filter:    q.Filter,
		}, st, true)
		if err != nil {
			return fetched{}, err
		}
		res.ids = append(sub.ids, res.ids...)
		n := sub.total()
		res.addCount(n)
		res.addOffset(n)

	case mig != (peers.Migration{}) && q.Filter != "" && !recursion:
		other := mig.Prev
		if isLegacy {
			other = peer
		}
		if other != model.NoPeer {
			sub, err := m.request(tok, HistoryQuery{Peer: other, Limit: 1, Filter: q.Filter})
			if err != nil {
				return fetched{}, err
			}
			n := sub.total()
			res.addCount(n)
			res.addOffset(n)
		}
	}
	return res, nil
}

// fillAlbums loads the neighbours of an album cut by the page boundary so grouped media is
// complete.
func (m *Manager) fillAlbums(tok liveness.Token, q HistoryQuery, st *history.Storage, res fetched, ends history.Ends) error {
	if len(res.ids) == 0 {
		return nil
	}
	first := m.message(q.Peer, res.ids[0])
	last := m.message(q.Peer, res.ids[len(res.ids)-1])

	if !ends.IsBottomEnd && first != nil && first.GroupedID != "" {
		if err := m.ensureWindow(tok, q, st, first.ID); err != nil {
			return err
		}
	}
	if !ends.IsTopEnd && last != nil && last.GroupedID != "" && (first == nil || last.GroupedID != first.GroupedID) {
		if err := m.ensureWindow(tok, q, st, last.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureWindow(tok liveness.Token, q HistoryQuery, st *history.Storage, around int64) error {
	q.OffsetID = around
	q.Limit = albumNeighbours
	q.AddOffset = -albumNeighbours / 2
	if w, ok := st.History.SliceMe(q.OffsetID, q.AddOffset, q.Limit); ok && w.Served(q.Limit) {
		return nil
	}
	_, err := m.fill(tok, q, st, true)
	return err
}

// request performs one history-like RPC for q and stores its messages.
func (m *Manager) request(tok liveness.Token, q HistoryQuery) (fetched, error) {
	method := v1.MethodGetHistory
	params := v1.GetHistoryRequest{
		PeerID:    int64(q.Peer),
		OffsetID:  ids.ServerID(q.OffsetID),
		AddOffset: q.AddOffset,
		Limit:     q.Limit,
	}
	switch {
	case q.Filter != "":
		method = v1.MethodSearch
		params.Filter = q.Filter
		params.TopMsgID = ids.ServerID(q.ThreadID)
	case q.ThreadID != 0:
		method = v1.MethodGetReplies
		params.TopMsgID = ids.ServerID(q.ThreadID)
	}

	res, err := m.requestOnce(tok, q.Peer, method, params, "")
	if err != nil {
		return fetched{}, err
	}
	if res.page().Suspicious() {
		m.log.Info("engine.history.suspicious", "peer_id", q.Peer, "offset_id", q.OffsetID, "ids", len(res.ids))
		if again, err := m.requestOnce(tok, q.Peer, method, params, "#retry"); err == nil {
			res = again
		} else if tok.Err() != nil {
			return fetched{}, err
		}
	}
	return res, nil
}

// requestOnce runs the call with the lock released. Identical calls in flight share one result.
func (m *Manager) requestOnce(tok liveness.Token, peer model.PeerID, method string, params v1.GetHistoryRequest, suffix string) (fetched, error) {
	key, err := json.Marshal(params)
	if err != nil {
		return fetched{}, err
	}

	m.suspend()
	v, err, shared := m.flight.Do(method+string(key)+suffix, func() (any, error) {
		var out v1.MessagesResponse
		if err := m.rpc.Invoke(tok.Context(), method, params, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	m.resume()

	if err != nil {
		if transport.IsType(err, transport.TypeChannelPrivate) {
			m.channelForbidden(peer)
		}
		m.log.Info("engine.history.fetch.fail", "peer_id", peer, "method", method, "err", err)
		return fetched{}, fmt.Errorf("engine.GetHistory: %w", err)
	}
	if err := tok.Err(); err != nil {
		return fetched{}, err
	}
	if shared {
		m.met.History("shared")
	} else {
		m.met.History("network")
	}
	resp := v.(*v1.MessagesResponse)
	m.log.Debug("engine.history.fetch", "peer_id", peer, "method", method, "offset_id", params.OffsetID,
		"limit", params.Limit, "messages", len(resp.Messages), "shared", shared)

	m.peers.Observe(resp.Chats...)
	m.saveMessages(resp.Messages)
	if resp.Pts != 0 {
		if ch := m.peers.ChannelID(peer); ch != 0 {
			m.seq.Set(ch, resp.Pts)
		}
	}

	msgs := resp.Messages
	var f fetched
	if resp.Count != nil {
		c := *resp.Count
		f.count = &c
	}
	if resp.OffsetIDOffset != nil {
		o := *resp.OffsetIDOffset
		f.offsetIDOffset = &o
	}
	// a trailing empty message marks the end of a deleted range
	if n := len(msgs); n > 0 && msgs[n-1].Empty {
		msgs = msgs[:n-1]
		if f.count != nil {
			*f.count--
		}
	}
	f.ids = make([]int64, 0, len(msgs))
	for _, raw := range msgs {
		if raw.Empty || raw.ID == 0 {
			continue
		}
		f.ids = append(f.ids, m.decoder.LocalID(model.PeerID(raw.PeerID), raw.ID))
	}
	return f, nil
}

// channelForbidden turns a CHANNEL_PRIVATE answer into the channel update the server would have sent.
func (m *Manager) channelForbidden(peer model.PeerID) {
	if !peer.IsAnyChat() {
		return
	}
	kind := "channel"
	if m.peers.Kind(peer) == peers.KindBroadcast {
		kind = "broadcast"
	}
	chat := v1.Chat{PeerID: int64(peer), Kind: kind, Forbidden: true}
	m.applyUpdate(updates.Channel{PeerID: peer, Chat: &chat})
}
