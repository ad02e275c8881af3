package domain

import (
	"fmt"
	"time"
)

type MeetingID int64

type MeetingStatus string

const (
	MeetingScheduled  MeetingStatus = "scheduled"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingCancelled  MeetingStatus = "cancelled"
)

func ParseMeetingStatus(s string) (MeetingStatus, error) {
	switch st := MeetingStatus(s); st {
	case MeetingScheduled, MeetingInProgress, MeetingCompleted, MeetingCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown meeting status %q", s)
	}
}

// AccessPolicy decides who may connect to a meeting's room.
type AccessPolicy string

const (
	AccessAllUsers      AccessPolicy = "all_users"
	AccessStartupOnly   AccessPolicy = "startup_only"
	AccessCorporateOnly AccessPolicy = "corporate_only"
	AccessConnectorOnly AccessPolicy = "connector_only"
	AccessSpecificUsers AccessPolicy = "specific_users"
)

func ParseAccessPolicy(s string) (AccessPolicy, error) {
	switch p := AccessPolicy(s); p {
	case AccessAllUsers, AccessStartupOnly, AccessCorporateOnly, AccessConnectorOnly, AccessSpecificUsers:
		return p, nil
	default:
		return "", fmt.Errorf("unknown access policy %q", s)
	}
}

// Roles returns the role set a policy enrolls, or nil when enrollment is
// not role driven (specific_users).
func (p AccessPolicy) Roles() []Role {
	switch p {
	case AccessAllUsers:
		return []Role{RoleAdmin, RoleStartup, RoleFounder, RoleCorporate, RoleConnector, RoleEnabler}
	case AccessStartupOnly:
		return []Role{RoleStartup, RoleFounder}
	case AccessCorporateOnly:
		return []Role{RoleCorporate}
	case AccessConnectorOnly:
		return []Role{RoleConnector, RoleEnabler}
	default:
		return nil
	}
}

type Meeting struct {
	ID          MeetingID `json:"id" gorm:"primaryKey"`
	CreatedByID UserID    `json:"created_by_id" gorm:"type:VARCHAR(36);not null;index"`
	Title       string    `json:"title" gorm:"type:VARCHAR(128);not null"`
	Description string    `json:"description" gorm:"type:TEXT"`

	ScheduledAt     time.Time `json:"scheduled_at" gorm:"not null;index"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null;default:60"`
	Timezone        string    `json:"timezone" gorm:"type:VARCHAR(48);not null;default:UTC"`

	AccessPolicy AccessPolicy `json:"access_policy" gorm:"type:VARCHAR(24);not null"`

	VideoEnabled       bool `json:"video_enabled" gorm:"not null;default:true"`
	AudioEnabled       bool `json:"audio_enabled" gorm:"not null;default:true"`
	ChatEnabled        bool `json:"chat_enabled" gorm:"not null;default:true"`
	ScreenShareEnabled bool `json:"screen_sharing_enabled" gorm:"not null;default:true"`
	RecordingEnabled   bool `json:"recording_enabled" gorm:"not null;default:false"`
	WaitingRoomEnabled bool `json:"waiting_room_enabled" gorm:"not null;default:false"`

	// RoomToken is the opaque identifier clients use to address the live
	// room. RoomSecret is shared out-of-band for clients without accounts.
	RoomToken  string `json:"room_token" gorm:"type:VARCHAR(16);not null;uniqueIndex"`
	RoomSecret string `json:"-" gorm:"type:VARCHAR(16);not null"`

	MaxParticipants int           `json:"max_participants" gorm:"not null;default:100"`
	Status          MeetingStatus `json:"status" gorm:"type:VARCHAR(16);not null;default:scheduled;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Meeting) JoinURL() string {
	return "/meeting/join/" + m.RoomToken
}
