package models

import (
	"time"

	"gorm.io/gorm"
)

// Role classifies an account and decides whether it may earn house points.
type Role string

const (
	RoleStudent Role = "student"
	RoleAlumnus Role = "alumnus"
	RoleTeacher Role = "teacher"
	RoleSpecial Role = "special"
	RoleAdmin   Role = "admin"
	RoleUnknown Role = "unknown"
)

// CanAddPoints reports whether accounts with this role accrue house points.
// Alumni, teachers and admins keep their house for display but never score.
func (r Role) CanAddPoints() bool {
	switch r {
	case RoleStudent, RoleSpecial:
		return true
	}
	return false
}

// Valid reports whether r is a known classification.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAlumnus, RoleTeacher, RoleSpecial, RoleAdmin, RoleUnknown:
		return true
	}
	return false
}

// User represents a participant account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Email        string         `gorm:"size:255;uniqueIndex;not null" json:"email"`
	DisplayName  string         `gorm:"size:64" json:"display_name"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	House        House          `gorm:"size:16;index" json:"house"`
	Role         Role           `gorm:"size:16;not null;default:student" json:"role"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided. The
// creation time doubles as the first award window start for fresh accounts.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = RoleStudent
	}
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
