// Package peers classifies peer ids and tracks basic-group migrations.
package peers

import (
	"sync"

	"chatsync/cmd/internal/model"
	v1 "chatsync/shared/contracts/sync/v1"
)

// Kind classifies a peer.
type Kind uint8

const (
	KindUser Kind = iota
	KindChat
	KindChannel
	KindBroadcast
)

// Migration links a basic group with the supergroup it was upgraded into.
type Migration struct {
	Prev model.PeerID
	Next model.PeerID
}

// Resolver answers identity questions about peers.
type Resolver interface {
	SelfID() model.PeerID
	Kind(peer model.PeerID) Kind
	IsChannel(peer model.PeerID) bool
	IsForum(peer model.PeerID) bool
	IsInChat(peer model.PeerID) bool
	CanViewHistory(peer model.PeerID) bool
	// ChannelID returns the channel id scoping peer's message ids, or 0.
	ChannelID(peer model.PeerID) int64
	Migration(peer model.PeerID) Migration
}

type entry struct {
	kind      Kind
	forum     bool
	left      bool
	forbidden bool
	public    bool
	prev      model.PeerID
	next      model.PeerID
}

// Directory is an in-memory Resolver fed from chats the server sends along with results.
type Directory struct {
	mu    sync.RWMutex
	self  model.PeerID
	peers map[model.PeerID]*entry
}

// NewDirectory constructs a Directory for the account self.
func NewDirectory(self model.PeerID) *Directory {
	return &Directory{
		self:  self,
		peers: make(map[model.PeerID]*entry),
	}
}

// SetSelf updates the account id (known after the handshake).
func (d *Directory) SetSelf(self model.PeerID) {
	d.mu.Lock()
	d.self = self
	d.mu.Unlock()
}

// SelfID returns the account's own peer id.
func (d *Directory) SelfID() model.PeerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.self
}

// Observe records chat descriptions received from the server.
func (d *Directory) Observe(chats ...v1.Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range chats {
		peer := model.PeerID(c.PeerID)
		if peer >= 0 {
			continue
		}
		e := d.peers[peer]
		if e == nil {
			e = &entry{}
			d.peers[peer] = e
		}
		switch c.Kind {
		case "channel":
			e.kind = KindChannel
		case "broadcast":
			e.kind = KindBroadcast
		default:
			e.kind = KindChat
		}
		e.forum = c.Forum
		e.left = c.Left
		e.forbidden = c.Forbidden
		e.public = c.Username != ""
		if c.MigratedTo != 0 {
			e.next = model.PeerID(c.MigratedTo)
			d.linkLocked(peer, e.next)
		}
		if c.MigratedFrom != 0 {
			e.prev = model.PeerID(c.MigratedFrom)
			d.linkLocked(e.prev, peer)
		}
	}
}

// Link records that prev was upgraded into next.
func (d *Directory) Link(prev, next model.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linkLocked(prev, next)
}

func (d *Directory) linkLocked(prev, next model.PeerID) {
	p := d.peers[prev]
	if p == nil {
		p = &entry{kind: KindChat}
		d.peers[prev] = p
	}
	n := d.peers[next]
	if n == nil {
		n = &entry{kind: KindChannel}
		d.peers[next] = n
	}
	p.next = next
	n.prev = prev
}

// Register sets the kind of a peer explicitly.
func (d *Directory) Register(peer model.PeerID, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.peers[peer]
	if e == nil {
		e = &entry{}
		d.peers[peer] = e
	}
	e.kind = kind
}

// Kind implements Resolver.
func (d *Directory) Kind(peer model.PeerID) Kind {
	if peer.IsUser() {
		return KindUser
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e := d.peers[peer]; e != nil {
		return e.kind
	}
	return KindChat
}

// IsChannel implements Resolver (supergroups and broadcasts).
func (d *Directory) IsChannel(peer model.PeerID) bool {
	k := d.Kind(peer)
	return k == KindChannel || k == KindBroadcast
}

// IsForum implements Resolver.
func (d *Directory) IsForum(peer model.PeerID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e := d.peers[peer]
	return e != nil && e.forum
}

// IsInChat implements Resolver.
func (d *Directory) IsInChat(peer model.PeerID) bool {
	if peer.IsUser() {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e := d.peers[peer]
	return e == nil || (!e.left && !e.forbidden && e.next == 0)
}

// CanViewHistory implements Resolver: members and public channels can read history.
func (d *Directory) CanViewHistory(peer model.PeerID) bool {
	if peer.IsUser() {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e := d.peers[peer]
	if e == nil {
		return true
	}
	return !e.forbidden && (e.public || !e.left)
}

// ChannelID implements Resolver.
func (d *Directory) ChannelID(peer model.PeerID) int64 {
	if d.IsChannel(peer) {
		return peer.ChatID()
	}
	return 0
}

// Migration implements Resolver.
func (d *Directory) Migration(peer model.PeerID) Migration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e := d.peers[peer]
	if e == nil {
		return Migration{}
	}
	return Migration{Prev: e.prev, Next: e.next}
}
