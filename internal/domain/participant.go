package domain

import "time"

type AttendanceStatus string

const (
	AttendanceInvited AttendanceStatus = "invited"
	AttendanceJoined  AttendanceStatus = "joined"
	AttendanceLeft    AttendanceStatus = "left"
	AttendanceNoShow  AttendanceStatus = "no_show"
)

// Participant is the durable (meeting, identity) record. It is never
// deleted while the meeting exists; attendance status is the mutable
// projection of what actually happened. The composite unique index is the
// guard that makes privileged auto-enroll idempotent under concurrent
// connects.
type Participant struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	MeetingID MeetingID `json:"meeting_id" gorm:"not null;uniqueIndex:uniq_meeting_identity"`

	// Either UserID (registered account) or the External* pair (guest
	// with no account) identifies the participant.
	UserID        UserID `json:"user_id,omitempty" gorm:"type:VARCHAR(36);uniqueIndex:uniq_meeting_identity"`
	ExternalName  string `json:"external_name,omitempty" gorm:"type:VARCHAR(64)"`
	ExternalEmail string `json:"external_email,omitempty" gorm:"type:VARCHAR(128)"`

	IsModerator    bool `json:"is_moderator" gorm:"not null;default:false"`
	CanShareScreen bool `json:"can_share_screen" gorm:"not null;default:true"`
	CanChat        bool `json:"can_chat" gorm:"not null;default:true"`

	AttendanceStatus AttendanceStatus `json:"attendance_status" gorm:"type:VARCHAR(16);not null;default:invited"`
	JoinedAt         *time.Time       `json:"joined_at,omitempty"`
	LeftAt           *time.Time       `json:"left_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IdentityID returns the key this record is addressed by in live rooms.
// Guests have no account, so their email stands in for the user id.
func (p *Participant) IdentityID() UserID {
	if p.UserID != "" {
		return p.UserID
	}
	return UserID("guest:" + p.ExternalEmail)
}

func (p *Participant) IsGuest() bool { return p.UserID == "" }
