package models

import (
	"time"
)

const (
	ModerationApproved    = "approved"
	ModerationPending     = "pending"
	ModerationRejected    = "rejected"
	ModerationUnderReview = "under_review"
)

// DesignItem is a local read-only snapshot of a gallery design.
// Owned by the design service; populated by the item sync worker and only
// ever read here (contest eligibility + display).
type DesignItem struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	OwnerID          string    `gorm:"index;not null" json:"owner_id"`
	Title            string    `gorm:"not null" json:"title"`
	PreviewKey       string    `json:"preview_key"` // object key in the previews bucket
	Prompt           string    `gorm:"type:text" json:"prompt,omitempty"`
	IsPublic         bool      `gorm:"not null" json:"is_public"`
	ModerationStatus string    `gorm:"type:varchar(16);not null;index" json:"moderation_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `gorm:"index" json:"updated_at"`
}

// EligibleForContest is the moderation verdict consumed by contest creation.
func (d *DesignItem) EligibleForContest() bool {
	return d.IsPublic && d.ModerationStatus == ModerationApproved
}
