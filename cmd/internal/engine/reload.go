package engine

import (
	"context"
	"sort"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/model"
)

// reloadLimiter is a per-peer sliding-window limiter. Callers hold the engine lock.
type reloadLimiter struct {
	events map[model.PeerID][]time.Time
	limit  int
	window time.Duration
}

func newReloadLimiter(limit int, window time.Duration) *reloadLimiter {
	if limit <= 0 {
		limit = defaultReloadLimit
	}
	if window <= 0 {
		window = defaultReloadWindow
	}
	return &reloadLimiter{
		events: make(map[model.PeerID][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether a reload of peer at time "now" should be permitted.
func (r *reloadLimiter) Allow(peer model.PeerID, now time.Time) bool {
	cut := now.Add(-r.window)
	events := r.events[peer]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= r.limit {
		r.events[peer] = dst
		return false
	}
	r.events[peer] = append(dst, now)
	return true
}

type reloadState struct {
	waiting  map[model.PeerID]struct{}
	inflight map[model.PeerID]struct{}
	// deferred holds throttled peers until the next Reconcile
	deferred map[model.PeerID]struct{}
	limiter  *reloadLimiter

	running bool
	idle    chan struct{}
}

func newReloadState(limit int, window time.Duration) reloadState {
	return reloadState{
		waiting:  make(map[model.PeerID]struct{}),
		inflight: make(map[model.PeerID]struct{}),
		deferred: make(map[model.PeerID]struct{}),
		limiter:  newReloadLimiter(limit, window),
	}
}

// taskSet counts background goroutines. Callers hold the engine lock.
type taskSet struct {
	n    int
	idle chan struct{}
}

func (t *taskSet) start() {
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *taskSet) done() {
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

// scheduleReload queues a dialog reload of peer and reports whether one will run.
func (m *Manager) scheduleReload(peer model.PeerID) bool {
	if peer == model.NoPeer || m.closed {
		return false
	}
	r := &m.reload
	if _, ok := r.waiting[peer]; ok {
		return true
	}
	if !r.limiter.Allow(peer, m.now()) {
		r.deferred[peer] = struct{}{}
		m.log.Debug("engine.reload.throttled", "peer_id", peer)
		return false
	}

	m.met.Reload()
	r.waiting[peer] = struct{}{}
	if !r.running {
		r.running = true
		r.idle = make(chan struct{})
		go m.runReloads()
	}
	return true
}

func (m *Manager) reloading(peer model.PeerID) bool {
	if _, ok := m.reload.waiting[peer]; ok {
		return true
	}
	_, ok := m.reload.inflight[peer]
	return ok
}

// runReloads drains the waiting set, one getPeerDialogs call per batch.
func (m *Manager) runReloads() {
	m.mu.Lock()
	defer func() {
		m.reload.running = false
		close(m.reload.idle)
		m.unlock()
	}()

	for len(m.reload.waiting) > 0 {
		batch := make([]model.PeerID, 0, len(m.reload.waiting))
		for p := range m.reload.waiting {
			batch = append(batch, p)
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })

		req := v1.GetPeerDialogsRequest{PeerIDs: make([]int64, len(batch))}
		for i, p := range batch {
			delete(m.reload.waiting, p)
			m.reload.inflight[p] = struct{}{}
			req.PeerIDs[i] = int64(p)
		}

		var out v1.PeerDialogsResponse
		m.suspend()
		err := m.rpc.Invoke(m.base, v1.MethodGetPeerDialogs, req, &out)
		m.resume()

		for _, p := range batch {
			delete(m.reload.inflight, p)
		}
		if m.closed {
			return
		}
		scope := m.dialogs.BeginUnread()
		if err != nil {
			m.log.Warn("engine.reload.fail", "peers", len(batch), "err", err)
		} else {
			m.applyDialogs(out)
			m.log.Debug("engine.reload.done", "peers", len(batch), "dialogs", len(out.Dialogs))
		}
		for _, p := range batch {
			m.flushQueued(p)
		}
		scope.Release()
	}
}

// WaitReloads blocks until no dialog reload or message fetch is running or ctx ends.
func (m *Manager) WaitReloads(ctx context.Context) error {
	for {
		m.mu.Lock()
		var idle chan struct{}
		switch {
		case m.reload.running:
			idle = m.reload.idle
		case m.fetches.n > 0:
			idle = m.fetches.idle
		default:
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyDialogs replaces the summaries of the dialogs in out.
func (m *Manager) applyDialogs(out v1.PeerDialogsResponse) {
	m.peers.Observe(out.Chats...)
	m.saveMessages(out.Messages)

	scope := m.dialogs.BeginUnread()
	for _, raw := range out.Dialogs {
		peer := model.PeerID(raw.PeerID)
		ch := m.peers.ChannelID(peer)

		old := m.dialogs.Get(peer)
		if old == nil {
			old = &model.Dialog{PeerID: peer}
		}
		scope.Track(old)

		d := &model.Dialog{
			PeerID:              peer,
			TopMessage:          m.ids.LocalID(raw.TopMessage, ch),
			ReadInboxMaxID:      m.ids.LocalID(raw.ReadInboxMaxID, ch),
			ReadOutboxMaxID:     m.ids.LocalID(raw.ReadOutboxMaxID, ch),
			UnreadCount:         raw.UnreadCount,
			UnreadMentionsCount: raw.UnreadMentionsCount,
			UnreadMark:          raw.UnreadMark,
			Pinned:              raw.Pinned,
			MuteUntil:           raw.MuteUntil,
			FolderID:            raw.FolderID,
			Pts:                 raw.Pts,
		}
		if dr := raw.Draft; dr != nil {
			d.Draft = &model.Draft{Text: dr.Message, ReplyTo: m.ids.LocalID(dr.ReplyToMsgID, ch), Date: dr.Date}
		}
		// an optimistic message stays on top until its confirmation arrives
		if ids.IsTemporary(old.TopMessage) && old.TopMessage > d.TopMessage {
			d.TopMessage = old.TopMessage
		}

		var topDate int64
		if msg := m.message(peer, d.TopMessage); msg != nil {
			topDate = msg.Date
		}
		m.dialogs.Set(d, topDate)

		st := m.histories.Get(peer, 0)
		st.ReadMaxID = d.ReadInboxMaxID
		st.ReadOutboxMaxID = d.ReadOutboxMaxID
		if d.TopMessage != 0 {
			st.MaxID = d.TopMessage
			first := st.History.First()
			if !st.History.Includes(d.TopMessage) && (first.Len() == 0 || d.TopMessage > first.Newest()) {
				first.UnsetEnd(history.EndBottom)
				st.History.Unshift(d.TopMessage)
			}
		}
		if ch != 0 && raw.Pts != 0 {
			m.seq.Set(ch, raw.Pts)
		}
		m.touchDialog(peer)
	}
	m.met.SetDialogs(m.dialogs.Len())
	scope.Release()
}

// flushQueued replays the new messages held back while peer's dialog was reloading.
func (m *Manager) flushQueued(peer model.PeerID) {
	msgs := m.queued[peer]
	delete(m.queued, peer)
	for _, msg := range msgs {
		m.onNewMessage(msg, true)
	}
}

// Reconcile retries the dialog reloads that were throttled and flushes the identifier state. It
// returns the number of reloads scheduled.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return 0, ErrClosed
	}

	peers := make([]model.PeerID, 0, len(m.reload.deferred))
	for p := range m.reload.deferred {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	n := 0
	for _, p := range peers {
		delete(m.reload.deferred, p)
		if m.scheduleReload(p) {
			n++
		}
	}
	m.stateDirty = true
	if n > 0 {
		m.log.Info("engine.reconcile", "reloads", n)
	}
	return n, nil
}
