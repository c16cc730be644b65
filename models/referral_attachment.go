package models

import "time"

// ReferralAttachment stores attachment metadata only. The file bytes live in
// an external object store addressed by StorageKey; storage backends are out
// of scope here.
type ReferralAttachment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ReferralID uint      `gorm:"not null;index:idx_referral_attachments_referral_id" json:"referral_id"`
	Referral   *Referral `gorm:"foreignKey:ReferralID;references:ID" json:"-"`

	FileName    string `gorm:"size:255;not null" json:"file_name"`
	ContentType string `gorm:"size:100;not null" json:"content_type"`
	SizeBytes   int64  `gorm:"not null" json:"size_bytes"`
	StorageKey  string `gorm:"size:255;not null" json:"storage_key"`

	// Demo attachments are produced by the demo progression scheduler
	IsDemo *bool `gorm:"default:false" json:"is_demo"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (ReferralAttachment) TableName() string {
	return "referral_attachments"
}

// ReferralAttachmentFilter represents filter criteria for attachment queries
type ReferralAttachmentFilter struct {
	ID            *uint
	ReferralID    *uint
	IsDemo        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
