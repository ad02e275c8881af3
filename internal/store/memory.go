package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hallwaylabs/huddle/internal/domain"
)

// MemoryStore keeps everything in process memory. It backs local
// development (no database configured) and the test suites. It honors the
// same (meeting, identity) uniqueness guarantee as the postgres store.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[domain.UserID]*domain.User
	meetings      map[domain.MeetingID]*domain.Meeting
	participants  []*domain.Participant
	notifications []*domain.Notification
	nextMeeting   domain.MeetingID
	nextRecord    int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:    make(map[domain.UserID]*domain.User),
		meetings: make(map[domain.MeetingID]*domain.Meeting),
	}
}

// PutUser seeds an account; accounts are owned by the wider platform.
func (s *MemoryStore) PutUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *MemoryStore) UserByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ActiveUsers(_ context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.User
	for _, u := range s.users {
		if u.Active {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ActiveUsersByRole(_ context.Context, roles []domain.Role) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.User
	for _, u := range s.users {
		if !u.Active {
			continue
		}
		for _, r := range roles {
			if u.Role == r {
				cp := *u
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateMeeting(_ context.Context, m *domain.Meeting, participants []*domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMeeting++
	m.ID = s.nextMeeting
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.meetings[m.ID] = &cp
	for _, p := range participants {
		s.nextRecord++
		p.ID = s.nextRecord
		p.MeetingID = m.ID
		p.CreatedAt = now
		pc := *p
		s.participants = append(s.participants, &pc)
	}
	return nil
}

func (s *MemoryStore) MeetingByID(_ context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meetings[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MeetingByRoomToken(_ context.Context, token string) (*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.meetings {
		if m.RoomToken == token {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateMeeting(_ context.Context, m *domain.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[m.ID]; !ok {
		return ErrNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	s.meetings[m.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteMeeting(_ context.Context, id domain.MeetingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[id]; !ok {
		return ErrNotFound
	}
	delete(s.meetings, id)
	kept := s.participants[:0]
	for _, p := range s.participants {
		if p.MeetingID != id {
			kept = append(kept, p)
		}
	}
	s.participants = kept
	return nil
}

func (s *MemoryStore) ListMeetings(_ context.Context) ([]*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) MeetingsForUser(_ context.Context, uid domain.UserID) ([]*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.MeetingID]bool)
	var out []*domain.Meeting
	for _, p := range s.participants {
		if p.UserID != uid || seen[p.MeetingID] {
			continue
		}
		seen[p.MeetingID] = true
		if m, ok := s.meetings[p.MeetingID]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) MeetingsScheduledBetween(_ context.Context, from, to time.Time) ([]*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Meeting
	for _, m := range s.meetings {
		if m.Status != domain.MeetingScheduled {
			continue
		}
		if !m.ScheduledAt.Before(from) && !m.ScheduledAt.After(to) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, now time.Time) (*MeetingStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &MeetingStats{TotalParticipants: int64(len(s.participants))}
	for _, m := range s.meetings {
		st.TotalMeetings++
		if m.ScheduledAt.After(now) {
			st.UpcomingMeetings++
		}
		if m.Status == domain.MeetingCompleted {
			st.CompletedMeetings++
		}
	}
	for _, p := range s.participants {
		if p.AttendanceStatus == domain.AttendanceJoined {
			st.JoinedParticipants++
		}
	}
	return st, nil
}

func (s *MemoryStore) Participant(_ context.Context, meetingID domain.MeetingID, uid domain.UserID) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.findLocked(meetingID, uid); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Participants(_ context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Participant
	for _, p := range s.participants {
		if p.MeetingID == meetingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) EnrollModerator(_ context.Context, meetingID domain.MeetingID, ident domain.Identity, at time.Time) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[meetingID]; !ok {
		return nil, ErrNotFound
	}
	if p := s.findLocked(meetingID, ident.ID); p != nil {
		cp := *p
		return &cp, nil
	}
	s.nextRecord++
	join := at
	p := &domain.Participant{
		ID:               s.nextRecord,
		MeetingID:        meetingID,
		UserID:           ident.ID,
		IsModerator:      true,
		CanShareScreen:   true,
		CanChat:          true,
		AttendanceStatus: domain.AttendanceJoined,
		JoinedAt:         &join,
		CreatedAt:        time.Now().UTC(),
	}
	s.participants = append(s.participants, p)
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) MarkJoined(_ context.Context, participantID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.ID == participantID {
			join := at
			p.AttendanceStatus = domain.AttendanceJoined
			p.JoinedAt = &join
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkLeft(_ context.Context, participantID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.ID == participantID {
			left := at
			p.AttendanceStatus = domain.AttendanceLeft
			p.LeftAt = &left
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecord++
	n.ID = s.nextRecord
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *MemoryStore) CountNotificationsTitledSince(_ context.Context, titlePrefix string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, note := range s.notifications {
		if strings.HasPrefix(note.Title, titlePrefix) && note.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// Notifications exposes created rows for callers that deliver them.
func (s *MemoryStore) Notifications() []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		cp := *n
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) findLocked(meetingID domain.MeetingID, uid domain.UserID) *domain.Participant {
	if uid == "" {
		return nil
	}
	for _, p := range s.participants {
		if p.MeetingID == meetingID && p.UserID == uid {
			return p
		}
	}
	return nil
}
