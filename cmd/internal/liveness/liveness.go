// Package liveness hands out tokens that go stale when a peer's cached state is reset, so
// continuations resumed after a network call can tell whether their result still applies.
package liveness

import (
	"context"
	"errors"
	"sync"

	"chatsync/cmd/internal/model"
)

// ErrStale is returned by Token.Err once the token was invalidated.
var ErrStale = errors.New("liveness: stale continuation")

// Scope tracks one generation counter per peer plus a global one.
type Scope struct {
	mu     sync.Mutex
	global uint64
	gens   map[model.PeerID]uint64
}

// NewScope constructs an empty Scope.
func NewScope() *Scope {
	return &Scope{gens: make(map[model.PeerID]uint64)}
}

// Token captures the current generation of peer. The token also dies with ctx.
func (s *Scope) Token(ctx context.Context, peer model.PeerID) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token{ctx: ctx, scope: s, peer: peer, gen: s.gens[peer], global: s.global}
}

// Invalidate makes every token issued for peer stale.
func (s *Scope) Invalidate(peer model.PeerID) {
	s.mu.Lock()
	s.gens[peer]++
	s.mu.Unlock()
}

// InvalidateAll makes every outstanding token stale.
func (s *Scope) InvalidateAll() {
	s.mu.Lock()
	s.global++
	s.mu.Unlock()
}

// Token is a disposable liveness check.
type Token struct {
	ctx    context.Context
	scope  *Scope
	peer   model.PeerID
	gen    uint64
	global uint64
}

// Peer returns the peer the token guards.
func (t Token) Peer() model.PeerID { return t.peer }

// Context returns the context the token was issued under.
func (t Token) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Alive reports whether the continuation holding t may still mutate shared state.
func (t Token) Alive() bool { return t.Err() == nil }

// Err returns nil while the token is alive, the context error if the context ended,
// and ErrStale if the peer was invalidated.
func (t Token) Err() error {
	if t.ctx != nil {
		if err := t.ctx.Err(); err != nil {
			return err
		}
	}
	if t.scope == nil {
		return nil
	}
	t.scope.mu.Lock()
	defer t.scope.mu.Unlock()
	if t.scope.global != t.global || t.scope.gens[t.peer] != t.gen {
		return ErrStale
	}
	return nil
}
