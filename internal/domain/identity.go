// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"fmt"
)

const MaxDisplayNameLen = 64

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

type UserID string

// Role is the closed set of platform roles. Everything that reads a role
// goes through ParseRole; raw string comparisons stay out of the core.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleStartup   Role = "startup"
	RoleFounder   Role = "founder"
	RoleCorporate Role = "corporate"
	RoleConnector Role = "connector"
	RoleEnabler   Role = "enabler"
	RoleGuest     Role = "guest"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleStartup, RoleFounder, RoleCorporate, RoleConnector, RoleEnabler, RoleGuest:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Privileged reports whether the role may enter any meeting and act as a
// moderator there without prior enrollment.
func (r Role) Privileged() bool { return r == RoleAdmin }

// Identity is who a live connection speaks for: a registered user or an
// enrolled external guest.
type Identity struct {
	ID    UserID `json:"user_id"`
	Name  string `json:"user_name"`
	Role  Role   `json:"user_role"`
	Guest bool   `json:"is_guest,omitempty"`
}

// User is the durable account record consumed from the platform store.
type User struct {
	ID     UserID `json:"id" gorm:"type:VARCHAR(36);primaryKey"`
	Name   string `json:"name" gorm:"type:VARCHAR(64);not null"`
	Email  string `json:"email" gorm:"type:VARCHAR(128);not null;uniqueIndex"`
	Role   Role   `json:"role" gorm:"type:VARCHAR(16);not null;index"`
	Active bool   `json:"is_active" gorm:"not null;default:true"`
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, Role: u.Role}
}
