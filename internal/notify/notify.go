// Package notify creates notification records for meeting lifecycle
// events. Delivery (email, push) belongs to the platform's notification
// pipeline, not here.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/hallwaylabs/huddle/internal/store"
)

type Kind string

const (
	MeetingCreated   Kind = "created"
	MeetingUpdated   Kind = "updated"
	MeetingReminder  Kind = "reminder"
	MeetingCancelled Kind = "cancelled"
	StartingSoon     Kind = "starting_soon"
)

type Service struct {
	Store store.Store
	Now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{Store: st, Now: time.Now}
}

type template struct {
	title   string
	message string
	level   domain.NotificationLevel
}

func render(m *domain.Meeting, kind Kind) template {
	when := m.ScheduledAt.Format("January 2, 2006 at 3:04 PM")
	switch kind {
	case MeetingUpdated:
		return template{
			title:   "Meeting Updated: " + m.Title,
			message: fmt.Sprintf("The meeting %q has been updated. Please check the details.", m.Title),
			level:   domain.NotifyWarning,
		}
	case MeetingReminder:
		return template{
			title:   "Meeting Reminder: " + m.Title,
			message: fmt.Sprintf("Your meeting %q starts in 15 minutes. Click to join.", m.Title),
			level:   domain.NotifyInfo,
		}
	case MeetingCancelled:
		return template{
			title:   "Meeting Cancelled: " + m.Title,
			message: fmt.Sprintf("The meeting %q scheduled for %s has been cancelled.", m.Title, when),
			level:   domain.NotifyDanger,
		}
	case StartingSoon:
		return template{
			title:   "Meeting Starting Soon: " + m.Title,
			message: fmt.Sprintf("Your meeting %q starts in 5 minutes. Get ready to join!", m.Title),
			level:   domain.NotifySuccess,
		}
	default:
		return template{
			title:   "New Meeting: " + m.Title,
			message: fmt.Sprintf("You have been invited to %q scheduled for %s.", m.Title, when),
			level:   domain.NotifyInfo,
		}
	}
}

// MeetingEvent creates one notification per registered participant; guests
// have no account to notify. Returns the number created.
func (s *Service) MeetingEvent(ctx context.Context, m *domain.Meeting, kind Kind, customMessage string) (int, error) {
	participants, err := s.Store.Participants(ctx, m.ID)
	if err != nil {
		return 0, err
	}
	tpl := render(m, kind)
	if customMessage != "" {
		tpl.message = customMessage
	}
	created := 0
	for _, p := range participants {
		if p.IsGuest() {
			continue
		}
		n := &domain.Notification{
			UserID:  p.UserID,
			Title:   tpl.title,
			Message: tpl.message,
			Level:   tpl.level,
			Link:    m.JoinURL(),
		}
		if err := s.Store.CreateNotification(ctx, n); err != nil {
			return created, err
		}
		created++
	}
	log.Info().Str("module", "notify").Str("kind", string(kind)).Int64("meeting", int64(m.ID)).Int("created", created).Msg("meeting notifications created")
	return created, nil
}

// SendReminders creates 15-minute reminders and 5-minute starting-soon
// notices for scheduled meetings, deduplicating by title within the last
// hour. Intended to run on a scheduler tick.
func (s *Service) SendReminders(ctx context.Context) error {
	now := s.Now().UTC()

	if err := s.remindWindow(ctx, now, 15*time.Minute, MeetingReminder, "Meeting Reminder: "); err != nil {
		return err
	}
	return s.remindWindow(ctx, now, 5*time.Minute, StartingSoon, "Meeting Starting Soon: ")
}

func (s *Service) remindWindow(ctx context.Context, now time.Time, lead time.Duration, kind Kind, titlePrefix string) error {
	meetings, err := s.Store.MeetingsScheduledBetween(ctx, now, now.Add(lead))
	if err != nil {
		return err
	}
	for _, m := range meetings {
		already, err := s.Store.CountNotificationsTitledSince(ctx, titlePrefix+m.Title, now.Add(-time.Hour))
		if err != nil {
			return err
		}
		if already > 0 {
			continue
		}
		if _, err := s.MeetingEvent(ctx, m, kind, ""); err != nil {
			return err
		}
	}
	return nil
}
