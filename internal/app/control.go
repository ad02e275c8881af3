package app

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

// stateEvent announces a member's media-state change to the rest of the
// room. The sender is excluded: it already knows its own state.
type stateEvent struct {
	Type       core.EventKind `json:"type"`
	UserID     domain.UserID  `json:"user_id"`
	Name       string         `json:"user_name"`
	IsMuted    *bool          `json:"is_muted,omitempty"`
	IsVideoOff *bool          `json:"is_video_off,omitempty"`
}

// ToggleAudio broadcasts participant_audio_changed.
func (c *Coordinator) ToggleAudio(s *Session, token string, muted bool) error {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return err
	}
	return c.broadcastState(room, s.SID, stateEvent{
		Type: core.KindAudioChanged, UserID: s.Identity.ID, Name: s.Identity.Name, IsMuted: &muted,
	})
}

// ToggleVideo broadcasts participant_video_changed.
func (c *Coordinator) ToggleVideo(s *Session, token string, videoOff bool) error {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return err
	}
	return c.broadcastState(room, s.SID, stateEvent{
		Type: core.KindVideoChanged, UserID: s.Identity.ID, Name: s.Identity.Name, IsVideoOff: &videoOff,
	})
}

// ScreenShare announces start/stop, gated by the member's capability flag.
func (c *Coordinator) ScreenShare(s *Session, token string, start bool) error {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return err
	}
	member, ok := room.Member(s.SID)
	if !ok {
		return core.ErrRoomNotFound
	}
	if !member.CanShareScreen {
		return core.ErrAccessDenied
	}
	kind := core.KindScreenShareStopped
	if start {
		kind = core.KindScreenShareStarted
	}
	return c.broadcastState(room, s.SID, stateEvent{Type: kind, UserID: s.Identity.ID, Name: s.Identity.Name})
}

func (c *Coordinator) broadcastState(room *core.Room, except core.SessionID, ev stateEvent) error {
	frame, err := encode(ev)
	if err != nil {
		return nil
	}
	room.Broadcast(except, frame)
	return nil
}

// Chat fans a length-bounded text message out to the whole room, sender
// included so every client renders the same history. Nothing is persisted.
func (c *Coordinator) Chat(s *Session, token, text string) error {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" || len(text) > c.MaxChatLen {
		return core.ErrMalformedMessage
	}
	member, ok := room.Member(s.SID)
	if !ok {
		return core.ErrRoomNotFound
	}
	if !member.CanChat {
		return core.ErrAccessDenied
	}
	if c.ChatLimiter != nil && !c.ChatLimiter.Allow(s.Identity.ID) {
		log.Warn().Str("module", "app.control").Str("user", string(s.Identity.ID)).Msg("chat rate limited")
		return core.ErrMalformedMessage
	}
	frame, err := encode(struct {
		Type      core.EventKind `json:"type"`
		UserID    domain.UserID  `json:"user_id"`
		Name      string         `json:"user_name"`
		Role      domain.Role    `json:"user_role"`
		Message   string         `json:"message"`
		Timestamp string         `json:"timestamp"`
	}{core.KindChatMessage, s.Identity.ID, s.Identity.Name, s.Identity.Role, text, c.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return nil
	}
	room.Broadcast("", frame)
	return nil
}

// moderatorRoom gates moderator-only actions on the sender's live roster
// entry; an unauthorized attempt is an explicit error, never a silent drop.
func (c *Coordinator) moderatorRoom(s *Session, token string) (*core.Room, error) {
	room, err := c.relayRoom(s, token)
	if err != nil {
		return nil, err
	}
	member, ok := room.Member(s.SID)
	if !ok || !member.Moderator {
		return nil, core.ErrNotModerator
	}
	return room, nil
}

// ForceMute broadcasts a moderator mute of the target, plus the resulting
// audio-state change so every client updates its UI.
func (c *Coordinator) ForceMute(s *Session, token string, target domain.UserID) error {
	room, err := c.moderatorRoom(s, token)
	if err != nil {
		return err
	}
	if target == "" {
		return core.ErrMalformedMessage
	}
	if _, ok := room.MemberByUser(target); !ok {
		return core.ErrTargetNotPresent
	}
	frame, err := encode(struct {
		Type        core.EventKind `json:"type"`
		TargetID    domain.UserID  `json:"target_user_id"`
		ByModerator bool           `json:"by_moderator"`
	}{core.KindForceMute, target, true})
	if err == nil {
		room.Broadcast("", frame)
	}
	muted := true
	if frame, err = encode(stateEvent{Type: core.KindAudioChanged, UserID: target, IsMuted: &muted}); err == nil {
		room.Broadcast("", frame)
	}
	log.Info().Str("module", "app.control").Str("token", token).Str("by", string(s.Identity.ID)).Str("target", string(target)).Msg("force mute")
	return nil
}

// ForceKick broadcasts the kick and then actually removes the target from
// live presence server-side; the target's connection survives, back in the
// Connected state outside any room.
func (c *Coordinator) ForceKick(ctx context.Context, s *Session, token string, target domain.UserID) error {
	room, err := c.moderatorRoom(s, token)
	if err != nil {
		return err
	}
	if target == "" {
		return core.ErrMalformedMessage
	}
	member, ok := room.MemberByUser(target)
	if !ok {
		return core.ErrTargetNotPresent
	}
	frame, err := encode(struct {
		Type        core.EventKind `json:"type"`
		TargetID    domain.UserID  `json:"target_user_id"`
		ByModerator bool           `json:"by_moderator"`
	}{core.KindForceKick, target, true})
	if err == nil {
		room.Broadcast("", frame)
	}
	if targetSess, ok := c.Registry.Get(member.SID); ok {
		c.Leave(ctx, targetSess, false)
	}
	log.Info().Str("module", "app.control").Str("token", token).Str("by", string(s.Identity.ID)).Str("target", string(target)).Msg("force kick")
	return nil
}

// RoomStats answers get_meeting_stats from live presence only.
type RoomStats struct {
	Type      core.EventKind     `json:"type"`
	RoomToken string             `json:"room_token"`
	Count     int                `json:"participant_count"`
	Roster    []core.RosterEntry `json:"participants"`
}

// Stats snapshots a room. found=false means no live room for the token;
// callers answer with an empty stats event rather than an error.
func (c *Coordinator) Stats(token string) (RoomStats, bool) {
	roster, count, ok := c.Rooms.Snapshot(token)
	st := RoomStats{Type: core.KindMeetingStats, RoomToken: token, Count: count, Roster: roster}
	if !ok {
		st.Roster = []core.RosterEntry{}
	}
	return st, ok
}
