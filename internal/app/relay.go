package app

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

// DeliveryMode selects how offer/answer frames are routed. Directed
// delivery is the right model for pairwise negotiation; broadcast exists
// as a fallback for small rooms and must be opted into by configuration.
type DeliveryMode string

const (
	DeliveryDirected  DeliveryMode = "directed"
	DeliveryBroadcast DeliveryMode = "broadcast"
)

func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch m := DeliveryMode(s); m {
	case DeliveryDirected, DeliveryBroadcast:
		return m, nil
	default:
		return "", fmt.Errorf("unknown signaling delivery mode %q", s)
	}
}

// negotiationEvent is the relayed envelope. The payload is forwarded
// opaquely; this layer never parses SDP or candidate contents.
type negotiationEvent struct {
	Type      core.EventKind  `json:"type"`
	FromID    domain.UserID   `json:"from_user_id"`
	FromName  string          `json:"from_user_name"`
	RoomToken string          `json:"room_token"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// RelayOffer forwards an SDP offer. Directed mode requires a target and
// fails with target_not_present when that identity is not in the room.
func (c *Coordinator) RelayOffer(s *Session, token string, target domain.UserID, offer json.RawMessage) error {
	ev := negotiationEvent{Type: core.KindOffer, Offer: offer}
	return c.relayNegotiation(s, token, target, len(offer) > 0, ev)
}

// RelayAnswer forwards an SDP answer, same routing rules as offers.
func (c *Coordinator) RelayAnswer(s *Session, token string, target domain.UserID, answer json.RawMessage) error {
	ev := negotiationEvent{Type: core.KindAnswer, Answer: answer}
	return c.relayNegotiation(s, token, target, len(answer) > 0, ev)
}

// RelayICECandidate fans a candidate out to the rest of the room.
// Candidates carry no target in the client protocol: every peer the sender
// negotiates with needs them.
func (c *Coordinator) RelayICECandidate(s *Session, token string, candidate json.RawMessage) error {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return err
	}
	if len(candidate) == 0 {
		return core.ErrMalformedMessage
	}
	frame, err := encode(negotiationEvent{
		Type:      core.KindICECandidate,
		FromID:    s.Identity.ID,
		FromName:  s.Identity.Name,
		RoomToken: token,
		Candidate: candidate,
	})
	if err != nil {
		return nil
	}
	room.Broadcast(s.SID, frame)
	return nil
}

func (c *Coordinator) relayNegotiation(s *Session, token string, target domain.UserID, hasPayload bool, ev negotiationEvent) error {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return err
	}
	if !hasPayload {
		return core.ErrMalformedMessage
	}
	ev.FromID = s.Identity.ID
	ev.FromName = s.Identity.Name
	ev.RoomToken = token

	frame, err := encode(ev)
	if err != nil {
		return nil
	}

	switch c.Delivery {
	case DeliveryBroadcast:
		room.Broadcast(s.SID, frame)
		return nil
	default:
		if target == "" {
			return core.ErrMalformedMessage
		}
		if err := room.SendTo(target, frame); err != nil {
			if err == core.ErrBackpressure {
				log.Warn().Str("module", "app.relay").Str("token", token).Str("target", string(target)).Msg("dropped negotiation frame, receiver buffer full")
				return nil
			}
			return err
		}
		return nil
	}
}

// relayRoom resolves the sender's live room, requiring the session to be
// active in the room it addresses.
func (c *Coordinator) relayRoom(s *Session, token string) (*core.Room, error) {
	current, active := s.Room()
	if !active || current != token {
		return nil, core.ErrRoomNotFound
	}
	room, ok := c.Rooms.Get(token)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return room, nil
}
