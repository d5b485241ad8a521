package models

import "time"

// AwardLog is the append-only audit record written after every successful
// point conversion. Entries are never updated or deleted; they exist for
// after-the-fact fraud review and debugging.
type AwardLog struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	EntryID        string    `gorm:"size:36;uniqueIndex;not null" json:"entry_id"`
	LoggedAt       time.Time `gorm:"index;not null" json:"logged_at"`
	WindowStart    time.Time `gorm:"not null" json:"window_start"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	Email          string    `gorm:"size:255" json:"email"`
	House          House     `gorm:"size:16;index" json:"house"`
	PointsAdded    int       `gorm:"not null" json:"points_added"`
	AppVersion     string    `gorm:"size:32" json:"app_version"`
	TrustedSources string    `gorm:"size:1024" json:"trusted_sources"`
	CreatedAt      time.Time `json:"-"`
}
