package core

import "github.com/hallwaylabs/huddle/internal/domain"

// EventKind tags every envelope crossing the persistent connection.
type EventKind string

// Client → server.
const (
	KindJoinMeeting      EventKind = "join_meeting"
	KindLeaveMeeting     EventKind = "leave_meeting"
	KindOffer            EventKind = "webrtc_offer"
	KindAnswer           EventKind = "webrtc_answer"
	KindICECandidate     EventKind = "webrtc_ice_candidate"
	KindToggleAudio      EventKind = "toggle_audio"
	KindToggleVideo      EventKind = "toggle_video"
	KindScreenShareStart EventKind = "screen_share_start"
	KindScreenShareStop  EventKind = "screen_share_stop"
	KindChatMessage      EventKind = "chat_message"
	KindAdminMute        EventKind = "admin_mute_user"
	KindAdminKick        EventKind = "admin_kick_user"
	KindStats            EventKind = "get_meeting_stats"
	KindPing             EventKind = "ping"
)

// Server → client.
const (
	KindConnected          EventKind = "connected"
	KindMeetingJoined      EventKind = "meeting_joined"
	KindMeetingLeft        EventKind = "meeting_left"
	KindParticipantJoined  EventKind = "participant_joined"
	KindParticipantLeft    EventKind = "participant_left"
	KindAudioChanged       EventKind = "participant_audio_changed"
	KindVideoChanged       EventKind = "participant_video_changed"
	KindScreenShareStarted EventKind = "participant_screen_share_started"
	KindScreenShareStopped EventKind = "participant_screen_share_stopped"
	KindForceMute          EventKind = "force_mute"
	KindForceKick          EventKind = "force_kick"
	KindMeetingStats       EventKind = "meeting_stats"
	KindPong               EventKind = "pong"
	KindError              EventKind = "error"
)

// RosterEntry is the read-only per-member view answering "who's here".
type RosterEntry struct {
	ID        domain.UserID `json:"user_id"`
	Name      string        `json:"user_name"`
	Role      domain.Role   `json:"user_role"`
	Moderator bool          `json:"is_moderator"`
}

// ErrorEvent is the uniform shape of the error reply.
type ErrorEvent struct {
	Type    EventKind `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func NewErrorEvent(se *SignalError) ErrorEvent {
	return ErrorEvent{Type: KindError, Code: se.Code, Message: se.Message}
}
