// Package models contains domain entities and business models for the referral tracking system
package models

import (
	"time"

	"github.com/google/uuid"
)

// Clinic type constants
const (
	ClinicTypeGeneralPractice = "gp"
	ClinicTypeSpecialist      = "specialist"
)

// Clinic is the tenant entity. Every referral and referral link is owned by
// exactly one clinic.
type Clinic struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_clinics_uuid" json:"uuid"`

	Name       string `gorm:"size:255;not null" json:"name"`
	ClinicType string `gorm:"size:20;not null;index:idx_clinics_clinic_type" json:"clinic_type"`

	// Shown on the public link page so a referring party can confirm the destination
	SpecialistName *string `gorm:"size:255" json:"specialist_name,omitempty"`
	Address        *string `gorm:"size:255" json:"address,omitempty"`
	Phone          *string `gorm:"size:20" json:"phone,omitempty"`
	Email          *string `gorm:"size:255" json:"email,omitempty"`

	IsActive *bool `gorm:"default:true;index:idx_clinics_is_active" json:"is_active"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Members       []ClinicMember `gorm:"foreignKey:ClinicID" json:"-"`
	ReferralLinks []ReferralLink `gorm:"foreignKey:ClinicID" json:"-"`
}

func (Clinic) TableName() string {
	return "clinics"
}

// ClinicFilter represents filter criteria for clinic queries
type ClinicFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	ClinicType    *string
	IsActive      *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (c *Clinic) IsSpecialist() bool {
	return c.ClinicType == ClinicTypeSpecialist
}

// ClinicMember maps an identity-provider subject to a clinic. Authentication
// itself happens at the IdP; this table only records membership for tenant
// resolution.
type ClinicMember struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	ClinicID uint    `gorm:"not null;index:idx_clinic_members_clinic_id" json:"clinic_id"`
	Clinic   *Clinic `gorm:"foreignKey:ClinicID;references:ID" json:"clinic,omitempty"`

	Subject     string `gorm:"size:255;not null;uniqueIndex:uk_clinic_members_subject" json:"subject"`
	DisplayName string `gorm:"size:255;not null" json:"display_name"`
	Role        string `gorm:"size:30;not null;default:'staff'" json:"role"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ClinicMember) TableName() string {
	return "clinic_members"
}

// ClinicMemberFilter represents filter criteria for clinic member queries
type ClinicMemberFilter struct {
	ID       *uint
	ClinicID *uint
	Subject  *string
	Role     *string
}
