package core

import (
	"sync"

	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Member pairs a live identity with its transport endpoint.
type Member struct {
	SID            SessionID
	Identity       domain.Identity
	Moderator      bool
	CanShareScreen bool
	CanChat        bool
	Conn           SignalConnection
}

func (m Member) RosterEntry() RosterEntry {
	return RosterEntry{
		ID:        m.Identity.ID,
		Name:      m.Identity.Name,
		Role:      m.Identity.Role,
		Moderator: m.Moderator,
	}
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []Member
}

// Room is the threadsafe in-memory live set for one token. It owns the
// membership but never closes adapter-owned connections. The count exposed
// by Count/Snapshot is always the cardinality of the live set, never cached.
type Room struct {
	token  string
	mu     sync.RWMutex
	bySID  map[SessionID]Member
	byUser map[domain.UserID]SessionID
}

func NewRoom(token string) *Room {
	return &Room{
		token:  token,
		bySID:  make(map[SessionID]Member),
		byUser: make(map[domain.UserID]SessionID),
	}
}

func (r *Room) Token() string { return r.token }

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// Add inserts the member. A reconnect under the same identity replaces the
// stale entry; the replaced session id is returned so the caller can tear
// the superseded transport down.
func (r *Room) Add(m Member) (stale SessionID, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[m.Identity.ID]; ok && old != m.SID {
		delete(r.bySID, old)
		stale, replaced = old, true
	}
	r.bySID[m.SID] = m
	r.byUser[m.Identity.ID] = m.SID
	log.Debug().Str("module", "core.room").Str("token", r.token).Str("sid", string(m.SID)).Str("user", string(m.Identity.ID)).Msg("member added")
	return stale, replaced
}

// Remove deletes the member and returns the remaining count. Removing an
// absent member is a no-op reported by ok=false so leave stays idempotent.
func (r *Room) Remove(sid SessionID) (remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySID[sid]
	if ok {
		if cur, found := r.byUser[m.Identity.ID]; found && cur == sid {
			delete(r.byUser, m.Identity.ID)
		}
		delete(r.bySID, sid)
	}
	return len(r.bySID), ok
}

func (r *Room) Member(sid SessionID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.bySID[sid]
	return m, ok
}

// MemberByUser resolves directed delivery targets.
func (r *Room) MemberByUser(uid domain.UserID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[uid]
	if !ok {
		return Member{}, false
	}
	m, ok := r.bySID[sid]
	return m, ok
}

func (r *Room) Snapshot() []RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RosterEntry, 0, len(r.bySID))
	for _, m := range r.bySID {
		out = append(out, m.RosterEntry())
	}
	return out
}

// Broadcast fans a frame out to every member except the sender.
func (r *Room) Broadcast(except SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == except {
			continue
		}
		if err := m.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("token", r.token).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers a frame to exactly one member identified by user id.
func (r *Room) SendTo(uid domain.UserID, data Frame) error {
	m, ok := r.MemberByUser(uid)
	if !ok {
		return ErrTargetNotPresent
	}
	return m.Conn.TrySend(data)
}
