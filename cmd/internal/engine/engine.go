// Package engine is the messages manager: it owns the message, history and dialog stores, applies
// push updates to them, fetches history pages on demand and drives outgoing messages from the
// optimistic insert to the server's confirmation.
//
// Every entry point runs under one mutex. The mutex is released while an RPC is in flight, so any
// state read before a call must be re-validated after it; liveness tokens tell a resumed
// continuation whether the peer it worked on was reset in between. Events are queued while the
// mutex is held and delivered after it is released.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/dialogs"
	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/ids"
	"chatsync/cmd/internal/liveness"
	"chatsync/cmd/internal/media"
	"chatsync/cmd/internal/metrics"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/peers"
	"chatsync/cmd/internal/pending"
	"chatsync/cmd/internal/state"
	"chatsync/cmd/internal/store"
	"chatsync/cmd/internal/transport"
	"chatsync/cmd/internal/updates"

	"golang.org/x/sync/singleflight"
)

// RPC is the part of the transport client the engine calls.
type RPC interface {
	Invoke(ctx context.Context, method string, params, out any) error
	InvokeCall(ctx context.Context, call transport.Call, out any) error
	InvokeCached(ctx context.Context, method string, params, out any, ttl time.Duration) error
	ClearCache(method string, match func(params json.RawMessage) bool)
}

// PeerDirectory resolves peers and learns about chats from server results.
type PeerDirectory interface {
	peers.Resolver
	Observe(chats ...v1.Chat)
	Link(prev, next model.PeerID)
}

const (
	defaultHistoryPage       = 50
	defaultMaxMessageLength  = 4096
	defaultReloadLimit       = 3
	defaultReloadWindow      = 10 * time.Second
	defaultSearchCountersTTL = 60 * time.Second

	albumNeighbours = 20
	deleteChunk     = 100
	mentionsPage    = 50
	mentionsPrefill = 25
)

// Config wires the engine to its collaborators. RPC and Peers are required.
type Config struct {
	Log     *slog.Logger
	RPC     RPC
	Peers   PeerDirectory
	Media   media.Manager
	Mirror  store.Mirrorer
	State   state.Store
	Metrics *metrics.Metrics
	Now     func() time.Time

	HistoryPage       int
	MaxMessageLength  int
	ReloadLimit       int
	ReloadWindow      time.Duration
	SearchCountersTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if c.State == nil {
		c.State = state.NewMemoryStore()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.HistoryPage <= 0 {
		c.HistoryPage = defaultHistoryPage
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = defaultMaxMessageLength
	}
	if c.ReloadLimit <= 0 {
		c.ReloadLimit = defaultReloadLimit
	}
	if c.ReloadWindow <= 0 {
		c.ReloadWindow = defaultReloadWindow
	}
	if c.SearchCountersTTL <= 0 {
		c.SearchCountersTTL = defaultSearchCountersTTL
	}
	return c
}

// PinnedInfo summarizes the pinned messages of a peer.
type PinnedInfo struct {
	Count int32
	MaxID int64
}

// Manager is the sync engine.
type Manager struct {
	cfg   Config
	log   *slog.Logger
	rpc   RPC
	peers PeerDirectory
	media media.Manager
	state state.Store
	met   *metrics.Metrics

	mu sync.Mutex

	ids       *ids.Mapper
	decoder   *updates.Decoder
	seq       *updates.Sequencer
	store     *store.Store
	histories *history.Registry
	dialogs   *dialogs.Store
	pending   *pending.Tracker
	live      *liveness.Scope
	bus       *notify.Bus
	batcher   *notify.Batcher
	flight    singleflight.Group

	pinned   map[model.PeerID]PinnedInfo
	mentions map[model.PeerID]*history.SlicedArray
	// queued holds new messages of peers whose dialog is being reloaded
	queued map[model.PeerID][]*model.Message
	reload reloadState
	// fetches tracks messages loaded in the background for updates that referenced them
	fetches taskSet

	base   context.Context
	cancel context.CancelFunc

	maxSeen    int64
	scopes     map[int64]struct{}
	stateDirty bool
	closed     bool
}

// New constructs a Manager and restores the persisted identifier state.
func New(cfg Config) (*Manager, error) {
	if cfg.RPC == nil || cfg.Peers == nil {
		return nil, opErr("engine.New", ErrInvalidInput, "rpc and peers are required")
	}
	cfg = cfg.withDefaults()

	bus := notify.NewBus()
	mapper := ids.NewMapper()
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Log,
		rpc:       cfg.RPC,
		peers:     cfg.Peers,
		media:     cfg.Media,
		state:     cfg.State,
		met:       cfg.Metrics,
		ids:       mapper,
		decoder:   updates.NewDecoder(mapper, cfg.Peers, cfg.Media),
		seq:       updates.NewSequencer(),
		store:     store.New(cfg.Mirror),
		histories: history.NewRegistry(),
		dialogs:   dialogs.New(bus),
		pending:   pending.NewTracker(),
		live:      liveness.NewScope(),
		bus:       bus,
		batcher:   notify.NewBatcher(),
		pinned:    make(map[model.PeerID]PinnedInfo),
		mentions:  make(map[model.PeerID]*history.SlicedArray),
		queued:    make(map[model.PeerID][]*model.Message),
		reload:    newReloadState(cfg.ReloadLimit, cfg.ReloadWindow),
		scopes:    make(map[int64]struct{}),
	}
	m.base, m.cancel = context.WithCancel(context.Background())

	var table map[int64]uint32
	if _, err := m.state.GetJSON(state.KeyIDScopes, &table); err != nil {
		return nil, err
	}
	mapper.RestoreScopes(table)
	for ch := range mapper.Scopes() {
		m.scopes[ch] = struct{}{}
	}
	maxSeen, _, err := m.state.GetInt64(state.KeyMaxSeenID)
	if err != nil {
		return nil, err
	}
	m.maxSeen = maxSeen
	return m, nil
}

// Subscribe registers h for engine events and returns a function removing it. Handlers run outside
// the engine lock and may call back into the engine.
func (m *Manager) Subscribe(h notify.Handler) func() {
	return m.bus.Subscribe(h)
}

// MaxSeenID returns the newest non-channel server id the engine has seen.
func (m *Manager) MaxSeenID() int64 {
	m.mu.Lock()
	defer m.unlock()
	return m.maxSeen
}

// Close stops background work, persists the identifier state and waits for in-flight reloads and
// message fetches until ctx ends.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	m.live.InvalidateAll()
	m.stateDirty = true
	m.unlock()

	return m.WaitReloads(ctx)
}

// unlock flushes batched notifications, persists dirty state, releases the lock and delivers the
// queued events.
func (m *Manager) unlock() {
	m.batcher.Flush(m.bus)
	m.persist()
	m.mu.Unlock()
	m.bus.Flush()
}

// suspend releases the lock around a network call.
func (m *Manager) suspend() {
	m.batcher.Flush(m.bus)
	m.mu.Unlock()
	m.bus.Flush()
}

func (m *Manager) resume() {
	m.mu.Lock()
}

func (m *Manager) invoke(ctx context.Context, method string, params, out any) error {
	m.suspend()
	defer m.resume()
	return m.rpc.Invoke(ctx, method, params, out)
}

func (m *Manager) now() time.Time { return m.cfg.Now() }

func (m *Manager) persist() {
	if !m.stateDirty {
		return
	}
	m.stateDirty = false
	if err := m.state.SetInt64(state.KeyMaxSeenID, m.maxSeen); err != nil {
		m.log.Warn("engine.state.save.fail", "key", state.KeyMaxSeenID, "err", err)
	}
	if err := m.state.SetJSON(state.KeyIDScopes, m.ids.Scopes()); err != nil {
		m.log.Warn("engine.state.save.fail", "key", state.KeyIDScopes, "err", err)
	}
}

// saveMessage stores msg in its peer's history collection and records what it teaches about ids
// and migrations.
func (m *Manager) saveMessage(msg *model.Message) {
	if msg == nil || msg.ID == 0 {
		return
	}
	m.store.Set(store.History(msg.PeerID), msg)

	if ids.IsLegacy(msg.ID) && int64(msg.ServerID) > m.maxSeen {
		m.maxSeen = int64(msg.ServerID)
		m.stateDirty = true
	}
	if ch := m.ids.ChannelOf(msg.ID); ch != 0 {
		if _, ok := m.scopes[ch]; !ok {
			m.scopes[ch] = struct{}{}
			m.stateDirty = true
		}
	}
	if a := msg.Action; a != nil {
		if a.MigratedTo != 0 {
			m.peers.Link(msg.PeerID, model.PeerID(a.MigratedTo))
		}
		if a.MigratedFrom != 0 {
			m.peers.Link(model.PeerID(a.MigratedFrom), msg.PeerID)
		}
	}
}

func (m *Manager) saveMessages(raws []v1.Message) {
	for _, raw := range raws {
		if raw.Empty || raw.ID == 0 {
			continue
		}
		m.saveMessage(m.decoder.Message(raw, 0))
	}
}

// message looks id up in peer's history, falling back to any legacy message with that id.
func (m *Manager) message(peer model.PeerID, id int64) *model.Message {
	if msg := m.store.Get(store.History(peer), id); msg != nil {
		return msg
	}
	if ids.IsLegacy(id) {
		return m.store.Get(store.History(model.NoPeer), id)
	}
	return nil
}

func (m *Manager) snapshot(peer model.PeerID, list []int64) []*model.Message {
	out := make([]*model.Message, 0, len(list))
	for _, id := range list {
		if msg := m.message(peer, id); msg != nil {
			out = append(out, msg.Clone())
		}
	}
	return out
}

// setDialogTopMessage points d at msg and moves the history's newest known id with it.
func (m *Manager) setDialogTopMessage(d *model.Dialog, msg *model.Message) {
	m.dialogs.SetTopMessage(d, msg)
	m.histories.Get(d.PeerID, 0).MaxID = msg.ID
	m.touchDialog(d.PeerID)
}

// touchDialog batches a dialogs_multiupdate for peer.
func (m *Manager) touchDialog(peer model.PeerID) {
	m.batcher.Push("dialogs", m.resolveDialogs, peer.String(), nil)
}

func (m *Manager) touchDialogIfTop(msg *model.Message) {
	if d := m.dialogs.Get(msg.PeerID); d != nil && d.TopMessage == msg.ID {
		m.touchDialog(msg.PeerID)
	}
}

func (m *Manager) resolveDialogs(keys []string, _ map[string]any) notify.Event {
	list := make([]model.PeerID, 0, len(keys))
	for _, k := range keys {
		if p, ok := parsePeer(k); ok {
			list = append(list, p)
		}
	}
	if len(list) == 0 {
		return nil
	}
	m.met.SetDialogs(m.dialogs.Len())
	if len(list) == 1 {
		return notify.DialogUpdate{Peer: list[0]}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return notify.DialogsMultiUpdate{Peers: list}
}

// modifyCachedMentions keeps the unread mention cursor of peer in sync with a mention that appeared
// or was read.
func (m *Manager) modifyCachedMentions(peer model.PeerID, id int64, add bool) {
	arr := m.mentions[peer]
	if arr == nil {
		return
	}
	if !add {
		arr.Delete(id)
		return
	}
	if arr.First().IsEnd(history.EndTop) {
		arr.Insert([]int64{id})
	}
}

// checkUnreadConsistency reloads peer when an update referenced messages the engine does not hold
// while the dialog still counts unread ones.
func (m *Manager) checkUnreadConsistency(peer model.PeerID) {
	d := m.dialogs.Get(peer)
	if d == nil || (d.UnreadCount == 0 && d.UnreadMentionsCount == 0) {
		return
	}
	m.scheduleReload(peer)
}

// dropHistory forgets everything cached about peer's history.
func (m *Manager) dropHistory(peer model.PeerID) {
	m.histories.Drop(peer)
	key := store.History(peer)
	for _, id := range m.store.IDs(key) {
		if !ids.IsTemporary(id) {
			m.store.Delete(key, id)
		}
	}
	delete(m.pinned, peer)
	delete(m.mentions, peer)
	m.live.Invalidate(peer)
}

// resetPeer recovers from a sequence gap: the cached history is dropped and the dialog reloaded.
func (m *Manager) resetPeer(peer model.PeerID) {
	if peer == model.NoPeer {
		return
	}
	m.dropHistory(peer)
	m.bus.Emit(notify.HistoryReload{Peer: peer})
	m.scheduleReload(peer)
}
