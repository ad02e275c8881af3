package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/core"
)

type registryEntry struct {
	Session *Session
	Cancel  context.CancelFunc
}

// Registry binds physical connections to sessions. It is the only index
// from SessionID to live state outside the rooms themselves.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*registryEntry)}
}

func (r *Registry) Bind(sid core.SessionID, sess *Session, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &registryEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
}

func (r *Registry) Get(sid core.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbound session")
}

// Cancel tears down the connection-scoped context for a session, which
// closes its pumps and funnels into the disconnect path.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}
