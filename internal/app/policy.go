// Package app coordinates live room state: who may join, who is present,
// and how signaling and control events fan out.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
	"github.com/hallwaylabs/huddle/internal/store"
)

// Decision is the outcome of evaluating (identity, meeting).
type Decision struct {
	Meeting      *domain.Meeting
	Participant  *domain.Participant
	AutoEnrolled bool
}

// PolicyEvaluator decides whether a connection attempt is authorized for a
// room. Denials come back as coded SignalErrors.
type PolicyEvaluator struct {
	Store store.Store
	Now   func() time.Time
}

func NewPolicyEvaluator(s store.Store) *PolicyEvaluator {
	return &PolicyEvaluator{Store: s, Now: time.Now}
}

// Authorize runs the access policy for one connection attempt. A
// privileged identity with no prior record is enrolled on the fly as a
// moderator; the store guarantees that enrollment is idempotent, so two
// concurrent connects by the same identity still yield one record.
func (p *PolicyEvaluator) Authorize(ctx context.Context, ident domain.Identity, roomToken string) (*Decision, error) {
	meeting, err := p.Store.MeetingByRoomToken(ctx, roomToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.ErrMeetingNotFound
		}
		return nil, err
	}
	if meeting.Status == domain.MeetingCancelled {
		return nil, core.ErrMeetingCancelled
	}

	if ident.Guest {
		return p.authorizeGuest(ctx, ident, meeting)
	}

	rec, err := p.Store.Participant(ctx, meeting.ID, ident.ID)
	switch {
	case err == nil:
		return &Decision{Meeting: meeting, Participant: rec}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if ident.Role.Privileged() {
		rec, err := p.Store.EnrollModerator(ctx, meeting.ID, ident, p.Now().UTC())
		if err != nil {
			return nil, err
		}
		log.Info().Str("module", "app.policy").Str("user", string(ident.ID)).Int64("meeting", int64(meeting.ID)).Msg("auto-enrolled privileged identity")
		return &Decision{Meeting: meeting, Participant: rec, AutoEnrolled: true}, nil
	}

	return nil, core.ErrNotInvited
}

// authorizeGuest admits external guests only if the creator enrolled their
// name/email ahead of time; guests can never self-enroll.
func (p *PolicyEvaluator) authorizeGuest(ctx context.Context, ident domain.Identity, meeting *domain.Meeting) (*Decision, error) {
	records, err := p.Store.Participants(ctx, meeting.ID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.IsGuest() && rec.IdentityID() == ident.ID {
			return &Decision{Meeting: meeting, Participant: rec}, nil
		}
	}
	return nil, core.ErrNotInvited
}
