// Package store is the durable side of the meeting core: Meeting,
// Participant and Notification records. Live presence never lives here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hallwaylabs/huddle/internal/domain"
)

var ErrNotFound = errors.New("store: not found")

// MeetingStats is the aggregate view for privileged dashboards.
type MeetingStats struct {
	TotalMeetings      int64 `json:"total_meetings"`
	UpcomingMeetings   int64 `json:"upcoming_meetings"`
	CompletedMeetings  int64 `json:"completed_meetings"`
	TotalParticipants  int64 `json:"total_participants"`
	JoinedParticipants int64 `json:"active_participants"`
}

// Store is everything the coordination core and the REST surface need from
// durable storage. Implementations must make EnrollModerator idempotent:
// two concurrent calls for the same (meeting, identity) yield one record.
type Store interface {
	// Users (consumed, not owned, by this subsystem).
	UserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	ActiveUsers(ctx context.Context) ([]*domain.User, error)
	ActiveUsersByRole(ctx context.Context, roles []domain.Role) ([]*domain.User, error)

	// Meetings.
	CreateMeeting(ctx context.Context, m *domain.Meeting, participants []*domain.Participant) error
	MeetingByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	MeetingByRoomToken(ctx context.Context, token string) (*domain.Meeting, error)
	UpdateMeeting(ctx context.Context, m *domain.Meeting) error
	DeleteMeeting(ctx context.Context, id domain.MeetingID) error
	ListMeetings(ctx context.Context) ([]*domain.Meeting, error)
	MeetingsForUser(ctx context.Context, uid domain.UserID) ([]*domain.Meeting, error)
	MeetingsScheduledBetween(ctx context.Context, from, to time.Time) ([]*domain.Meeting, error)
	Stats(ctx context.Context, now time.Time) (*MeetingStats, error)

	// Participation records.
	Participant(ctx context.Context, meetingID domain.MeetingID, uid domain.UserID) (*domain.Participant, error)
	Participants(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error)
	EnrollModerator(ctx context.Context, meetingID domain.MeetingID, ident domain.Identity, at time.Time) (*domain.Participant, error)
	MarkJoined(ctx context.Context, participantID int64, at time.Time) error
	MarkLeft(ctx context.Context, participantID int64, at time.Time) error

	// Notifications (created here, delivered elsewhere).
	CreateNotification(ctx context.Context, n *domain.Notification) error
	CountNotificationsTitledSince(ctx context.Context, titlePrefix string, since time.Time) (int64, error)
}
