package models

import (
	"time"
)

// Version represents one isolated, independently-scored deployment of a
// trading strategy. The active version is the row whose RetiredAt is null;
// retiring one version and activating the next happens in a single
// transaction so the activity intervals are contiguous.
type Version struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Tag         string     `gorm:"uniqueIndex;size:50;not null" json:"tag"`
	Description string     `gorm:"size:500" json:"description"`
	ConfigJSON  string     `gorm:"type:text;not null" json:"-"`
	InitialCash float64    `gorm:"type:decimal(20,8);not null" json:"initial_cash"`
	DeployedAt  time.Time  `gorm:"index;not null" json:"deployed_at"`
	RetiredAt   *time.Time `gorm:"index" json:"retired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Version model
func (Version) TableName() string {
	return "versions"
}

// IsActive reports whether the version is still accumulating activity.
func (v *Version) IsActive() bool {
	return v.RetiredAt == nil
}

// ActiveUntil returns the end of the version's activity interval,
// falling back to now for the active version.
func (v *Version) ActiveUntil(now time.Time) time.Time {
	if v.RetiredAt != nil {
		return *v.RetiredAt
	}
	return now
}

// Duration returns the length of the activity interval.
func (v *Version) Duration(now time.Time) time.Duration {
	return v.ActiveUntil(now).Sub(v.DeployedAt)
}
