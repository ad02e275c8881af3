package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/hallwaylabs/huddle/internal/store"
)

// PresenceMirror reflects live membership into shared state (redis) so
// other instances can observe it. Optional; the coordinator works without
// one.
type PresenceMirror interface {
	Add(ctx context.Context, token string, uid domain.UserID)
	Remove(ctx context.Context, token string, uid domain.UserID)
}

// Coordinator owns the connection lifecycle and every room mutation. All
// join/leave transitions are serialized per room token by Rooms; durable
// reads and writes happen strictly outside those locks.
type Coordinator struct {
	Store    store.Store
	Policy   *PolicyEvaluator
	Rooms    *Rooms
	Registry *Registry
	Mirror   PresenceMirror

	Delivery    DeliveryMode
	MaxChatLen  int
	ChatLimiter *RateLimiter

	Now func() time.Time
}

func NewCoordinator(st store.Store) *Coordinator {
	return &Coordinator{
		Store:       st,
		Policy:      NewPolicyEvaluator(st),
		Rooms:       NewRooms(),
		Registry:    NewRegistry(),
		Delivery:    DeliveryDirected,
		MaxChatLen:  2000,
		ChatLimiter: NewRateLimiter(20, 10*time.Second),
		Now:         time.Now,
	}
}

// Connect establishes a session for an authenticated connection. A
// connection with no identity is rejected outright; that is the only
// failure that terminates the transport.
func (c *Coordinator) Connect(sid core.SessionID, ident domain.Identity, conn core.SignalConnection, cancel context.CancelFunc) (*Session, error) {
	if ident.ID == "" {
		return nil, core.ErrAuthenticationRequired
	}
	s := NewSession(sid, ident, conn)
	c.Registry.Bind(sid, s, cancel)
	c.send(conn, struct {
		Type   core.EventKind `json:"type"`
		Status string         `json:"status"`
	}{core.KindConnected, "Connected to signaling server"})
	log.Info().Str("module", "app.coordinator").Str("sid", string(sid)).Str("user", string(ident.ID)).Msg("session connected")
	return s, nil
}

// Join runs the full Joining -> Active transition: authorize, enter the
// room under its serialization lock, announce to the others, answer the
// joiner with the roster, then persist attendance.
func (c *Coordinator) Join(ctx context.Context, s *Session, token string) error {
	if token == "" {
		return core.ErrMalformedMessage
	}

	// A connection is in at most one room; a join while active is an
	// implicit leave of the previous room.
	if _, active := s.Room(); active {
		c.Leave(ctx, s, false)
	}
	if err := s.beginJoin(); err != nil {
		return err
	}

	dec, err := c.Policy.Authorize(ctx, s.Identity, token)
	if err != nil {
		s.failJoin()
		return err
	}

	member := core.Member{
		SID:            s.SID,
		Identity:       s.Identity,
		Moderator:      dec.Participant.IsModerator,
		CanShareScreen: dec.Participant.CanShareScreen,
		CanChat:        dec.Participant.CanChat,
		Conn:           s.Conn,
	}

	var roster []core.RosterEntry
	var count int
	stale, replaced, err := c.Rooms.Join(token, member, dec.Meeting.MaxParticipants, func(room *core.Room) {
		roster = room.Snapshot()
		count = room.Count()
		frame, err := encode(struct {
			Type   core.EventKind `json:"type"`
			UserID domain.UserID  `json:"user_id"`
			Name   string         `json:"user_name"`
			Role   domain.Role    `json:"user_role"`
			Count  int            `json:"participant_count"`
		}{core.KindParticipantJoined, s.Identity.ID, s.Identity.Name, s.Identity.Role, count})
		if err == nil {
			room.Broadcast(s.SID, frame)
		}
	})
	if err != nil {
		s.failJoin()
		return err
	}
	if replaced {
		// The superseded transport is a zombie; cancelling its context
		// funnels it into the normal disconnect path.
		c.Registry.Cancel(stale)
	}
	s.completeJoin(token, dec.Meeting.ID, dec.Participant.ID, member.Moderator)

	c.send(s.Conn, struct {
		Type      core.EventKind     `json:"type"`
		MeetingID domain.MeetingID   `json:"meeting_id"`
		Title     string             `json:"meeting_title"`
		Roster    []core.RosterEntry `json:"participants"`
		Count     int                `json:"participant_count"`
		Moderator bool               `json:"is_moderator"`
	}{core.KindMeetingJoined, dec.Meeting.ID, dec.Meeting.Title, roster, count, member.Moderator})

	// Auto-enroll already recorded the joined status in the same write.
	if !dec.AutoEnrolled {
		c.persistAttendance(ctx, "join", s.SID, func() error {
			return c.Store.MarkJoined(ctx, dec.Participant.ID, c.Now().UTC())
		})
	}
	if c.Mirror != nil {
		c.Mirror.Add(ctx, token, s.Identity.ID)
	}

	log.Info().Str("module", "app.coordinator").Str("sid", string(s.SID)).Str("token", token).Int("count", count).Msg("joined room")
	return nil
}

// Leave runs Active -> Leaving -> Connected (or Disconnected). Explicit
// leave and transport disconnect share this path, so both end states are
// identical. Calling it when not in a room is a no-op.
func (c *Coordinator) Leave(ctx context.Context, s *Session, disconnected bool) bool {
	token, participantID, ok := s.beginLeave()
	if !ok {
		s.completeLeave(disconnected)
		return false
	}

	removed := c.Rooms.Leave(token, s.SID, func(room *core.Room, remaining int) {
		frame, err := encode(struct {
			Type   core.EventKind `json:"type"`
			UserID domain.UserID  `json:"user_id"`
			Name   string         `json:"user_name"`
			Count  int            `json:"participant_count"`
		}{core.KindParticipantLeft, s.Identity.ID, s.Identity.Name, remaining})
		if err == nil {
			room.Broadcast(s.SID, frame)
		}
	})
	s.completeLeave(disconnected)

	if removed {
		c.persistAttendance(ctx, "leave", s.SID, func() error {
			return c.Store.MarkLeft(ctx, participantID, c.Now().UTC())
		})
		if c.Mirror != nil {
			c.Mirror.Remove(ctx, token, s.Identity.ID)
		}
	}
	if !disconnected {
		c.send(s.Conn, struct {
			Type   core.EventKind `json:"type"`
			Status string         `json:"status"`
		}{core.KindMeetingLeft, "Left meeting successfully"})
	}
	log.Info().Str("module", "app.coordinator").Str("sid", string(s.SID)).Str("token", token).Bool("disconnected", disconnected).Msg("left room")
	return removed
}

// LeaveMeeting handles an explicit client leave. A frame naming a room the
// session is not active in is a stale client frame and is rejected; an
// empty token leaves whatever room the session is in.
func (c *Coordinator) LeaveMeeting(ctx context.Context, s *Session, token string) error {
	if token != "" {
		if cur, active := s.Room(); active && cur != token {
			return core.ErrRoomNotFound
		}
	}
	c.Leave(ctx, s, false)
	return nil
}

// Disconnect treats transport loss as an implicit leave and releases the
// session binding along with its rate-limit window.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) {
	c.Leave(ctx, s, true)
	s.markDisconnected()
	c.Registry.Unbind(s.SID)
	if c.ChatLimiter != nil {
		c.ChatLimiter.Forget(s.Identity.ID)
	}
}

// persistAttendance retries the durable write once; on persistent failure
// the in-memory presence change stands and the gap is logged for
// reconciliation rather than failing the user-visible transition.
func (c *Coordinator) persistAttendance(ctx context.Context, action string, sid core.SessionID, write func() error) {
	err := write()
	if err == nil {
		return
	}
	if ctx.Err() == nil {
		if err = write(); err == nil {
			return
		}
	}
	log.Error().Err(err).Str("module", "app.coordinator").Str("action", action).Str("sid", string(sid)).Msg("attendance write failed after retry, presence kept; reconciliation gap")
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("encode event")
		return nil, err
	}
	return b, nil
}

func (c *Coordinator) send(conn core.SignalConnection, v any) {
	frame, err := encode(v)
	if err != nil {
		return
	}
	_ = conn.TrySend(frame)
}

// SendError reports a recoverable failure back to one sender only.
func (c *Coordinator) SendError(conn core.SignalConnection, err error) {
	c.send(conn, core.NewErrorEvent(core.AsSignalError(err)))
}
