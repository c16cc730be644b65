package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ReferralStatus represents the lifecycle status of a referral
type ReferralStatus string

const (
	ReferralStatusDraft     ReferralStatus = "draft"
	ReferralStatusSubmitted ReferralStatus = "submitted"
	ReferralStatusAccepted  ReferralStatus = "accepted"
	ReferralStatusSent      ReferralStatus = "sent"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusCancelled ReferralStatus = "cancelled"
	ReferralStatusRejected  ReferralStatus = "rejected"
)

// StatusOrder is the canonical forward order used for monotonicity checks.
// Draft, cancelled and rejected sit outside the canonical order.
var StatusOrder = []ReferralStatus{
	ReferralStatusSubmitted,
	ReferralStatusAccepted,
	ReferralStatusSent,
	ReferralStatusCompleted,
}

// String returns the string representation of the status
func (s ReferralStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralStatusDraft, ReferralStatusSubmitted, ReferralStatusAccepted,
		ReferralStatusSent, ReferralStatusCompleted, ReferralStatusCancelled,
		ReferralStatusRejected:
		return true
	default:
		return false
	}
}

// OrderIndex returns the status position in the canonical forward order and
// true, or -1 and false for statuses outside the canonical order.
func (s ReferralStatus) OrderIndex() (int, bool) {
	for i, st := range StatusOrder {
		if st == s {
			return i, true
		}
	}
	return -1, false
}

// IsTerminal reports whether the status is an absorbing terminal state.
func (s ReferralStatus) IsTerminal() bool {
	return s == ReferralStatusCancelled || s == ReferralStatusRejected
}

// Scan implements the sql.Scanner interface for ReferralStatus
func (s *ReferralStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ReferralStatus(v)
	case []byte:
		*s = ReferralStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ReferralStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ReferralStatus
func (s ReferralStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ReferralStatus: %s", s)
	}
	return string(s), nil
}

// Referral type constants
const (
	ReferralTypeOutgoing = "outgoing"
	ReferralTypeIncoming = "incoming"
)

// Referral is the central entity of the system.
//
// The four stage timestamps are write-once: the status flow stamps each one at
// most once and never overwrites a non-null value. StatusToken addresses the
// public read-only status page; ShareToken is generated lazily for ad hoc
// sharing. A referral created through a ReferralLink keeps a weak back
// reference and survives the link's deletion.
type Referral struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_referrals_uuid" json:"uuid"`

	ReferralType string         `gorm:"size:20;not null;index:idx_referrals_referral_type" json:"referral_type"`
	Status       ReferralStatus `gorm:"size:20;not null;default:'draft';index:idx_referrals_status" json:"status"`

	// Tenant ownership
	FromClinicID uint    `gorm:"not null;index:idx_referrals_from_clinic_id" json:"from_clinic_id"`
	FromClinic   *Clinic `gorm:"foreignKey:FromClinicID;references:ID" json:"from_clinic,omitempty"`
	ToClinicID   *uint   `gorm:"index:idx_referrals_to_clinic_id" json:"to_clinic_id,omitempty"`
	ToClinic     *Clinic `gorm:"foreignKey:ToClinicID;references:ID" json:"to_clinic,omitempty"`

	// Weak back reference to the link the referral came in through
	ReferralLinkID *uint         `gorm:"index:idx_referrals_referral_link_id" json:"referral_link_id,omitempty"`
	ReferralLink   *ReferralLink `gorm:"foreignKey:ReferralLinkID;references:ID;constraint:OnDelete:SET NULL" json:"-"`

	// Patient contact channel for best-effort notifications
	PatientName   string  `gorm:"size:255;not null" json:"patient_name"`
	PatientMobile *string `gorm:"size:20" json:"patient_mobile,omitempty"`
	PatientEmail  *string `gorm:"size:255" json:"patient_email,omitempty"`

	Reason   string         `gorm:"type:text" json:"reason"`
	Symptoms pq.StringArray `gorm:"type:text[]" json:"symptoms,omitempty"`
	Notes    *string        `gorm:"type:text" json:"notes,omitempty"`

	// Link-access fields
	StatusToken          string  `gorm:"size:64;not null;uniqueIndex:uk_referrals_status_token" json:"-"`
	StatusAccessCodeHash *string `gorm:"size:255" json:"-"`
	ShareToken           *string `gorm:"size:64;uniqueIndex:uk_referrals_share_token" json:"-"`

	// Stage timestamps, each nullable and write-once
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PostOpScheduledAt *time.Time `json:"post_op_scheduled_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_referrals_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Attachments []ReferralAttachment `gorm:"foreignKey:ReferralID" json:"attachments,omitempty"`
}

func (Referral) TableName() string {
	return "referrals"
}

// HasPatientContact reports whether any contact channel is known.
func (r *Referral) HasPatientContact() bool {
	return (r.PatientMobile != nil && *r.PatientMobile != "") ||
		(r.PatientEmail != nil && *r.PatientEmail != "")
}

// ReferralFilter represents filter criteria for referral queries
type ReferralFilter struct {
	ID             *uint
	UUID           *uuid.UUID
	ReferralType   *string
	Status         *ReferralStatus
	FromClinicID   *uint
	ToClinicID     *uint
	ReferralLinkID *uint
	StatusToken    *string
	ShareToken     *string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}
