// Package ids maps server-assigned message ids into process-wide local ids and mints
// temporary ids for outgoing messages.
//
// A local id packs three fields, high to low:
//
//	[scope index: 20 bits][server id: 31 bits][temporary fraction: 12 bits]
//
// Scope 0 is the legacy scope shared by users and basic groups. Every channel gets the next free
// scope index the first time it is seen, so legacy ids always sort below channel ids and ids from
// different channels never collide. A confirmed id has a zero fraction; a temporary id does not.
package ids

import (
	"sync"

	"chatsync/cmd/internal/model"
)

const (
	fractionBits = 12
	serverBits   = 31
	scopeShift   = fractionBits + serverBits

	fractionMask = 1<<fractionBits - 1
	serverMask   = 1<<serverBits - 1
	maxScope     = 1<<20 - 1
)

// Mapper is safe for concurrent use.
type Mapper struct {
	mu       sync.Mutex
	scopes   map[int64]uint32
	channels map[uint32]int64
	top      uint32
	lastTemp map[model.PeerID]int64
}

// NewMapper constructs an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{
		scopes:   make(map[int64]uint32),
		channels: make(map[uint32]int64),
		lastTemp: make(map[model.PeerID]int64),
	}
}

// LocalID maps a server id scoped to channelID (0 for users and basic groups) to its local id.
// It is deterministic and never fails; a zero or negative server id maps to 0.
func (m *Mapper) LocalID(serverID int32, channelID int64) int64 {
	if serverID <= 0 {
		return 0
	}
	scope := m.scope(channelID)
	return int64(scope)<<scopeShift | int64(serverID)<<fractionBits
}

// FirstID is the lowest confirmed local id of a channel's scope.
func (m *Mapper) FirstID(channelID int64) int64 {
	return m.LocalID(1, channelID)
}

func (m *Mapper) scope(channelID int64) uint32 {
	if channelID == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.scopes[channelID]; ok {
		return s
	}
	s := m.top + 1
	if s > maxScope {
		// Out of scope indexes: share the last one. Ids stay deterministic but two channels
		// beyond this point may collide.
		s = maxScope
	}
	m.top = s
	m.scopes[channelID] = s
	if _, taken := m.channels[s]; !taken {
		m.channels[s] = channelID
	}
	return s
}

// MintTemporary returns a temporary local id for an outgoing message in peer. The result is strictly
// greater than knownTop and than every id minted for peer before.
func (m *Mapper) MintTemporary(peer model.PeerID, knownTop int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := knownTop
	if last := m.lastTemp[peer]; last > base {
		base = last
	}
	next := base + 1
	if next&fractionMask == 0 {
		// fraction overflowed into the server id; keep the id temporary
		next++
	}
	m.lastTemp[peer] = next
	return next
}

// ServerID extracts the server id of a local id.
func ServerID(local int64) int32 {
	if local <= 0 {
		return 0
	}
	return int32(local >> fractionBits & serverMask)
}

// IsTemporary reports whether local was minted for a not yet confirmed message.
func IsTemporary(local int64) bool { return local > 0 && local&fractionMask != 0 }

// IsServer reports whether local is a confirmed id.
func IsServer(local int64) bool { return local > 0 && local&fractionMask == 0 }

// IsLegacy reports whether local is a confirmed id of the legacy (non-channel) scope.
func IsLegacy(local int64) bool { return IsServer(local) && local>>scopeShift == 0 }

// ChannelOf returns the channel whose scope local belongs to, or 0 for the legacy scope.
func (m *Mapper) ChannelOf(local int64) int64 {
	if local <= 0 {
		return 0
	}
	s := uint32(local >> scopeShift)
	if s == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[s]
}

// Scopes returns a copy of the channel -> scope table for persistence.
func (m *Mapper) Scopes() map[int64]uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int64]uint32, len(m.scopes))
	for k, v := range m.scopes {
		out[k] = v
	}
	return out
}

// RestoreScopes loads a persisted scope table. Entries already present win.
func (m *Mapper) RestoreScopes(table map[int64]uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch, s := range table {
		if ch == 0 || s == 0 || s > maxScope {
			continue
		}
		if _, ok := m.scopes[ch]; ok {
			continue
		}
		m.scopes[ch] = s
		if _, taken := m.channels[s]; !taken {
			m.channels[s] = ch
		}
		if s > m.top {
			m.top = s
		}
	}
}

// Scope returns the scope index of local; 0 is the legacy scope.
func Scope(local int64) uint32 {
	if local <= 0 {
		return 0
	}
	return uint32(local >> scopeShift)
}
