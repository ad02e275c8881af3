package domain

import "time"

type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifySuccess NotificationLevel = "success"
	NotifyWarning NotificationLevel = "warning"
	NotifyDanger  NotificationLevel = "danger"
)

// Notification is handed to the platform's notification pipeline; this
// subsystem only creates the rows, it never sends email or push itself.
type Notification struct {
	ID      int64             `json:"id" gorm:"primaryKey"`
	UserID  UserID            `json:"user_id" gorm:"type:VARCHAR(36);not null;index"`
	Title   string            `json:"title" gorm:"type:VARCHAR(160);not null;index"`
	Message string            `json:"message" gorm:"type:TEXT;not null"`
	Level   NotificationLevel `json:"level" gorm:"type:VARCHAR(12);not null;default:info"`
	Link    string            `json:"link" gorm:"type:VARCHAR(160)"`

	Read      bool      `json:"is_read" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
