package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/hallwaylabs/huddle/internal/store"
)

type fakeConn struct {
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.fail {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

// events decodes every received frame and returns the type fields in order.
func (c *fakeConn) events(t *testing.T) []string {
	t.Helper()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev.Type)
	}
	return out
}

func (c *fakeConn) last(t *testing.T) map[string]any {
	t.Helper()
	require.NotEmpty(t, c.frames)
	var m map[string]any
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], &m))
	return m
}

func (c *fakeConn) countEvents(t *testing.T, kind core.EventKind) int {
	n := 0
	for _, e := range c.events(t) {
		if e == string(kind) {
			n++
		}
	}
	return n
}

type fixture struct {
	coord *Coordinator
	store *store.MemoryStore
	token string
	mid   domain.MeetingID
}

func ident(id string, role domain.Role) domain.Identity {
	return domain.Identity{ID: domain.UserID(id), Name: id, Role: role}
}

// newFixture builds a coordinator over the in-memory store with one
// scheduled meeting and the given users pre-enrolled.
func newFixture(t *testing.T, enrolled ...domain.Identity) *fixture {
	t.Helper()
	st := store.NewMemory()
	m := &domain.Meeting{
		Title:              "Pitch Review",
		ScheduledAt:        time.Now().Add(time.Hour),
		DurationMinutes:    60,
		AccessPolicy:       domain.AccessSpecificUsers,
		ChatEnabled:        true,
		ScreenShareEnabled: true,
		RoomToken:          "room-abc",
		RoomSecret:         "secret",
		MaxParticipants:    100,
		Status:             domain.MeetingScheduled,
	}
	var participants []*domain.Participant
	for i, id := range enrolled {
		participants = append(participants, &domain.Participant{
			UserID:           id.ID,
			IsModerator:      i == 0,
			CanShareScreen:   true,
			CanChat:          true,
			AttendanceStatus: domain.AttendanceInvited,
		})
	}
	require.NoError(t, st.CreateMeeting(context.Background(), m, participants))
	return &fixture{coord: NewCoordinator(st), store: st, token: m.RoomToken, mid: m.ID}
}

func (f *fixture) connect(t *testing.T, id domain.Identity) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := f.coord.Connect(core.SessionID("sid-"+string(id.ID)), id, conn, func() {})
	require.NoError(t, err)
	conn.frames = nil // drop the connected ack, tests care about what follows
	return s, conn
}

func (f *fixture) join(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, f.coord.Join(context.Background(), s, f.token))
}

func TestConnectRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Connect("sid-x", domain.Identity{}, &fakeConn{}, func() {})
	assert.ErrorIs(t, err, core.ErrAuthenticationRequired)
}

func TestJoinAnnouncesInOrderWithLiveCounts(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	bob := ident("bob", domain.RoleStartup)
	f := newFixture(t, alice, bob)

	sa, ca := f.connect(t, alice)
	f.join(t, sa)

	joined := ca.last(t)
	assert.Equal(t, string(core.KindMeetingJoined), joined["type"])
	assert.Equal(t, float64(1), joined["participant_count"])
	assert.Equal(t, true, joined["is_moderator"])

	sb, cb := f.connect(t, bob)
	f.join(t, sb)

	// Alice sees exactly one participant_joined carrying the new count.
	assert.Equal(t, 1, ca.countEvents(t, core.KindParticipantJoined))
	ev := ca.last(t)
	assert.Equal(t, string(core.KindParticipantJoined), ev["type"])
	assert.Equal(t, "bob", ev["user_id"])
	assert.Equal(t, float64(2), ev["participant_count"])

	// Bob's roster includes both members.
	reply := cb.last(t)
	assert.Equal(t, string(core.KindMeetingJoined), reply["type"])
	assert.Equal(t, float64(2), reply["participant_count"])
	assert.Len(t, reply["participants"], 2)
	assert.Equal(t, false, reply["is_moderator"])
}

func TestJoinDeniedLeavesNoTrace(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)

	sa, _ := f.connect(t, alice)
	f.join(t, sa)

	mallory := ident("mallory", domain.RoleStartup)
	sm, _ := f.connect(t, mallory)
	err := f.coord.Join(context.Background(), sm, f.token)
	assert.ErrorIs(t, err, core.ErrNotInvited)

	roster, count, ok := f.coord.Rooms.Snapshot(f.token)
	require.True(t, ok)
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.UserID("alice"), roster[0].ID)

	// The denied connection stays usable.
	assert.Equal(t, StateConnected, sm.State())
}

func TestJoinUnknownToken(t *testing.T) {
	f := newFixture(t, ident("alice", domain.RoleFounder))
	s, _ := f.connect(t, ident("alice", domain.RoleFounder))
	err := f.coord.Join(context.Background(), s, "no-such-room")
	assert.ErrorIs(t, err, core.ErrMeetingNotFound)
}

func TestJoinCancelledMeeting(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)
	m, err := f.store.MeetingByID(context.Background(), f.mid)
	require.NoError(t, err)
	m.Status = domain.MeetingCancelled
	require.NoError(t, f.store.UpdateMeeting(context.Background(), m))

	s, _ := f.connect(t, alice)
	err = f.coord.Join(context.Background(), s, f.token)
	assert.ErrorIs(t, err, core.ErrMeetingCancelled)
}

func TestJoinRoomFull(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	bob := ident("bob", domain.RoleStartup)
	f := newFixture(t, alice, bob)
	m, err := f.store.MeetingByID(context.Background(), f.mid)
	require.NoError(t, err)
	m.MaxParticipants = 1
	require.NoError(t, f.store.UpdateMeeting(context.Background(), m))

	sa, _ := f.connect(t, alice)
	f.join(t, sa)

	sb, _ := f.connect(t, bob)
	err = f.coord.Join(context.Background(), sb, f.token)
	assert.ErrorIs(t, err, core.ErrRoomFull)
}

func TestPrivilegedAutoEnrollsAsModerator(t *testing.T) {
	f := newFixture(t, ident("alice", domain.RoleFounder))

	admin := ident("root", domain.RoleAdmin)
	s, c := f.connect(t, admin)
	f.join(t, s)

	assert.True(t, s.Moderator())
	reply := c.last(t)
	assert.Equal(t, true, reply["is_moderator"])

	rec, err := f.store.Participant(context.Background(), f.mid, admin.ID)
	require.NoError(t, err)
	assert.True(t, rec.IsModerator)
	assert.Equal(t, domain.AttendanceJoined, rec.AttendanceStatus)
}

func TestLeaveIsIdempotent(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	bob := ident("bob", domain.RoleStartup)
	f := newFixture(t, alice, bob)

	sa, ca := f.connect(t, alice)
	f.join(t, sa)
	sb, _ := f.connect(t, bob)
	f.join(t, sb)

	assert.True(t, f.coord.Leave(context.Background(), sb, false))
	assert.False(t, f.coord.Leave(context.Background(), sb, false))

	// Alice observed exactly one departure.
	assert.Equal(t, 1, ca.countEvents(t, core.KindParticipantLeft))
	ev := ca.last(t)
	assert.Equal(t, float64(1), ev["participant_count"])

	rec, err := f.store.Participant(context.Background(), f.mid, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendanceLeft, rec.AttendanceStatus)
	require.NotNil(t, rec.LeftAt)
}

func TestLastLeaveDiscardsRoom(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)
	sa, _ := f.connect(t, alice)
	f.join(t, sa)

	f.coord.Leave(context.Background(), sa, false)
	_, _, ok := f.coord.Rooms.Snapshot(f.token)
	assert.False(t, ok)
	assert.Equal(t, 0, f.coord.Rooms.Active())
}

func TestDisconnectIsImplicitLeave(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	bob := ident("bob", domain.RoleStartup)
	f := newFixture(t, alice, bob)

	sa, ca := f.connect(t, alice)
	f.join(t, sa)
	sb, cb := f.connect(t, bob)
	f.join(t, sb)

	before := len(cb.frames)
	f.coord.Disconnect(context.Background(), sb)

	assert.Equal(t, 1, ca.countEvents(t, core.KindParticipantLeft))
	// No meeting_left confirmation to a gone transport.
	assert.Len(t, cb.frames, before)
	assert.Equal(t, StateDisconnected, sb.State())
	_, bound := f.coord.Registry.Get(sb.SID)
	assert.False(t, bound)

	rec, err := f.store.Participant(context.Background(), f.mid, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendanceLeft, rec.AttendanceStatus)
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	users := make([]domain.Identity, 8)
	for i := range users {
		users[i] = ident(fmt.Sprintf("user%d", i), domain.RoleStartup)
	}
	f := newFixture(t, users...)
	m, err := f.store.MeetingByID(context.Background(), f.mid)
	require.NoError(t, err)
	m.MaxParticipants = 1
	require.NoError(t, f.store.UpdateMeeting(context.Background(), m))

	var wg sync.WaitGroup
	var admitted int32
	for _, u := range users {
		s, _ := f.connect(t, u)
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := f.coord.Join(context.Background(), s, f.token); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted)
	_, count, ok := f.coord.Rooms.Snapshot(f.token)
	require.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestReconnectSupersedesStaleSession(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)

	staleCancelled := false
	s1, err := f.coord.Connect("sid-old", alice, &fakeConn{}, func() { staleCancelled = true })
	require.NoError(t, err)
	f.join(t, s1)

	s2, err := f.coord.Connect("sid-new", alice, &fakeConn{}, func() {})
	require.NoError(t, err)
	f.join(t, s2)

	assert.True(t, staleCancelled, "the replaced transport gets its context cancelled")
	_, count, ok := f.coord.Rooms.Snapshot(f.token)
	require.True(t, ok)
	assert.Equal(t, 1, count)
	m, ok := f.coord.Rooms.MemberByUser(f.token, alice.ID)
	require.True(t, ok)
	assert.Equal(t, core.SessionID("sid-new"), m.SID)
}

func TestReconnectAdmittedAtCapacity(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)
	m, err := f.store.MeetingByID(context.Background(), f.mid)
	require.NoError(t, err)
	m.MaxParticipants = 1
	require.NoError(t, f.store.UpdateMeeting(context.Background(), m))

	s1, _ := f.connect(t, alice)
	f.join(t, s1)

	s2, err := f.coord.Connect("sid-again", alice, &fakeConn{}, func() {})
	require.NoError(t, err)
	require.NoError(t, f.coord.Join(context.Background(), s2, f.token),
		"a replacing reconnect does not grow the room, so the cap does not apply")

	_, count, _ := f.coord.Rooms.Snapshot(f.token)
	assert.Equal(t, 1, count)
}

func TestLeaveMeetingRejectsStaleToken(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)
	s, c := f.connect(t, alice)
	f.join(t, s)

	err := f.coord.LeaveMeeting(context.Background(), s, "some-other-room")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
	_, active := s.Room()
	assert.True(t, active, "a stale frame must not evict the session")

	// A frame naming the active room, or naming none, leaves normally.
	require.NoError(t, f.coord.LeaveMeeting(context.Background(), s, f.token))
	_, active = s.Room()
	assert.False(t, active)
	assert.Equal(t, string(core.KindMeetingLeft), c.last(t)["type"])

	f.join(t, s)
	require.NoError(t, f.coord.LeaveMeeting(context.Background(), s, ""))
	_, active = s.Room()
	assert.False(t, active)
}

func TestJoinWhileActiveLeavesPreviousRoom(t *testing.T) {
	alice := ident("alice", domain.RoleFounder)
	f := newFixture(t, alice)

	other := &domain.Meeting{
		Title:           "Second Room",
		ScheduledAt:     time.Now().Add(time.Hour),
		DurationMinutes: 30,
		AccessPolicy:    domain.AccessSpecificUsers,
		RoomToken:       "room-def",
		RoomSecret:      "secret2",
		MaxParticipants: 100,
		Status:          domain.MeetingScheduled,
	}
	require.NoError(t, f.store.CreateMeeting(context.Background(), other, []*domain.Participant{{
		UserID: alice.ID, CanChat: true, CanShareScreen: true, AttendanceStatus: domain.AttendanceInvited,
	}}))

	sa, _ := f.connect(t, alice)
	f.join(t, sa)
	require.NoError(t, f.coord.Join(context.Background(), sa, other.RoomToken))

	tok, active := sa.Room()
	require.True(t, active)
	assert.Equal(t, other.RoomToken, tok)
	_, _, ok := f.coord.Rooms.Snapshot(f.token)
	assert.False(t, ok, "first room should be empty and discarded")
}
