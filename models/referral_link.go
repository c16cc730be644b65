package models

import (
	"time"

	"github.com/google/uuid"
)

// ReferralLink is a standing, reusable inbound channel ("magic link").
//
// Token is the routable identifier of the public submission page. The access
// code plaintext is returned to the owning clinic exactly once, at creation or
// regeneration; only the bcrypt hash is stored. Deleting a link detaches the
// referrals created through it instead of deleting them.
type ReferralLink struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_referral_links_uuid" json:"uuid"`

	ClinicID uint    `gorm:"not null;index:idx_referral_links_clinic_id" json:"clinic_id"`
	Clinic   *Clinic `gorm:"foreignKey:ClinicID;references:ID" json:"clinic,omitempty"`

	// Subject of the clinic member who created the link
	CreatedBy string `gorm:"size:255;not null" json:"created_by"`

	Token          string `gorm:"size:64;not null;uniqueIndex:uk_referral_links_token" json:"-"`
	AccessCodeHash string `gorm:"size:255;not null" json:"-"`

	Label    string `gorm:"size:255;not null;default:''" json:"label"`
	IsActive *bool  `gorm:"default:true;index:idx_referral_links_is_active" json:"is_active"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_referral_links_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ReferralLink) TableName() string {
	return "referral_links"
}

// ReferralLinkFilter represents filter criteria for referral link queries
type ReferralLinkFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	ClinicID      *uint
	Token         *string
	IsActive      *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
