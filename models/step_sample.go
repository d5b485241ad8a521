package models

import "time"

// StepSample stores one device-synced daily step sum for a single data source.
// Devices upload these in batches; re-syncing the same (user, source, day)
// replaces the previous value rather than adding to it.
type StepSample struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_sample_user_source_day" json:"user_id"`
	SourceID    string    `gorm:"size:255;not null;uniqueIndex:idx_sample_user_source_day" json:"source_id"`
	SampleDate  time.Time `gorm:"type:date;not null;uniqueIndex:idx_sample_user_source_day" json:"sample_date"`
	Steps       int64     `gorm:"not null;default:0" json:"steps"`
	ManualEntry bool      `gorm:"not null;default:false" json:"manual_entry"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
