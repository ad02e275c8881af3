package app

import (
	"fmt"
	"sync"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

// SessionState is the lifecycle of one physical connection.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateConnected
	StateJoining
	StateActive
	StateLeaving
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one connection's view of the world: its identity, its state
// and the single room it may be active in. A session is bound to at most
// one room at a time.
type Session struct {
	SID      core.SessionID
	Identity domain.Identity
	Conn     core.SignalConnection

	mu            sync.Mutex
	state         SessionState
	roomToken     string
	meetingID     domain.MeetingID
	participantID int64
	moderator     bool
}

func NewSession(sid core.SessionID, ident domain.Identity, conn core.SignalConnection) *Session {
	return &Session{SID: sid, Identity: ident, Conn: conn, state: StateConnected}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the token the session is active in, if any.
func (s *Session) Room() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return "", false
	}
	return s.roomToken, true
}

func (s *Session) MeetingID() domain.MeetingID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meetingID
}

func (s *Session) Moderator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moderator
}

// beginJoin moves Connected -> Joining. A session already active in a room
// must run the implicit leave before calling this.
func (s *Session) beginJoin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		s.state = StateJoining
		return nil
	case StateActive, StateJoining, StateLeaving:
		return core.ErrMalformedMessage
	default:
		return core.ErrAuthenticationRequired
	}
}

// completeJoin moves Joining -> Active with the room bound.
func (s *Session) completeJoin(token string, meetingID domain.MeetingID, participantID int64, moderator bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateActive
	s.roomToken = token
	s.meetingID = meetingID
	s.participantID = participantID
	s.moderator = moderator
}

// failJoin moves Joining -> Connected; the connection stays open, just
// outside any room.
func (s *Session) failJoin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateJoining {
		s.state = StateConnected
	}
}

// beginLeave moves Active -> Leaving and detaches the room. ok=false means
// the session was not in a room (double leave, or leave before join), which
// callers treat as a no-op.
func (s *Session) beginLeave() (token string, participantID int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return "", 0, false
	}
	s.state = StateLeaving
	token = s.roomToken
	participantID = s.participantID
	s.roomToken = ""
	s.meetingID = 0
	s.participantID = 0
	s.moderator = false
	return token, participantID, true
}

// completeLeave lands back on Connected unless the transport is gone.
func (s *Session) completeLeave(disconnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if disconnected {
		s.state = StateDisconnected
		return
	}
	if s.state == StateLeaving {
		s.state = StateConnected
	}
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
}
