package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

// roomEntry pairs a live room with the mutex that serializes its
// mutations. The join mutex is distinct from the room's internal data
// lock: it is held across the whole add/announce (or remove/announce)
// sequence so presence counts and join/leave events stay ordered, while
// durable-store I/O happens strictly outside it.
type roomEntry struct {
	joinMu sync.Mutex
	room   *core.Room
}

// Rooms maps room tokens to live session state. Entries are created
// lazily on first join and discarded when the last member leaves.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*roomEntry)}
}

func (f *Rooms) ensure(token string) *roomEntry {
	f.mu.RLock()
	e, ok := f.rooms[token]
	f.mu.RUnlock()
	if ok {
		return e
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok = f.rooms[token]; ok {
		return e
	}
	e = &roomEntry{room: core.NewRoom(token)}
	f.rooms[token] = e
	log.Info().Str("module", "app.rooms").Str("token", token).Msg("room created")
	return e
}

// Get returns the live room for a token, if any connection is in it.
func (f *Rooms) Get(token string) (*core.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.rooms[token]
	if !ok {
		return nil, false
	}
	return e.room, true
}

// Join adds a member under the room's serialization lock and runs announce
// while the lock is still held, so already-present members observe joins
// in the order they were serialized. The capacity check runs under the
// same lock; a reconnect that replaces an existing entry for the same
// identity never counts against capacity. The entry is re-checked against
// the registry after locking, because a concurrent leave of the last
// member may have discarded it between ensure and the lock.
func (f *Rooms) Join(token string, m core.Member, max int, announce func(room *core.Room)) (stale core.SessionID, replaced bool, err error) {
	for {
		e := f.ensure(token)
		e.joinMu.Lock()
		if !f.current(token, e) {
			e.joinMu.Unlock()
			continue
		}
		if max > 0 && e.room.Count() >= max {
			if _, present := e.room.MemberByUser(m.Identity.ID); !present {
				e.joinMu.Unlock()
				return "", false, core.ErrRoomFull
			}
		}
		stale, replaced = e.room.Add(m)
		if announce != nil {
			announce(e.room)
		}
		e.joinMu.Unlock()
		return stale, replaced, nil
	}
}

// current reports whether e is still the registered entry for token.
func (f *Rooms) current(token string, e *roomEntry) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rooms[token] == e
}

// Leave removes a member under the same serialization lock. When the room
// empties, the entry is discarded before the lock is released, so a
// concurrent joiner can never land in an entry the registry no longer
// holds. Returns false when the member was not present, which keeps leave
// idempotent.
func (f *Rooms) Leave(token string, sid core.SessionID, announce func(room *core.Room, remaining int)) bool {
	f.mu.RLock()
	e, ok := f.rooms[token]
	f.mu.RUnlock()
	if !ok {
		return false
	}
	e.joinMu.Lock()
	remaining, removed := e.room.Remove(sid)
	if removed && announce != nil {
		announce(e.room, remaining)
	}
	if removed && remaining == 0 {
		f.mu.Lock()
		if f.rooms[token] == e {
			delete(f.rooms, token)
			log.Info().Str("module", "app.rooms").Str("token", token).Msg("empty room discarded")
		}
		f.mu.Unlock()
	}
	e.joinMu.Unlock()
	return removed
}

// Snapshot answers stats queries without touching durable state.
func (f *Rooms) Snapshot(token string) ([]core.RosterEntry, int, bool) {
	room, ok := f.Get(token)
	if !ok {
		return nil, 0, false
	}
	roster := room.Snapshot()
	return roster, len(roster), true
}

// Active reports how many rooms currently hold at least one connection.
func (f *Rooms) Active() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}

// MemberByUser finds a live member across the single room for a token.
func (f *Rooms) MemberByUser(token string, uid domain.UserID) (core.Member, bool) {
	room, ok := f.Get(token)
	if !ok {
		return core.Member{}, false
	}
	return room.MemberByUser(uid)
}
