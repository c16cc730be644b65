package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	ClinicID *uint   `gorm:"index:idx_audit_clinic_id" json:"clinic_id,omitempty"`
	Clinic   *Clinic `gorm:"foreignKey:ClinicID;references:ID" json:"clinic,omitempty"`

	ReferralID *uint     `gorm:"index:idx_audit_referral_id" json:"referral_id,omitempty"`
	Referral   *Referral `gorm:"foreignKey:ReferralID;references:ID" json:"-"`

	// Identity-provider subject of the acting staff member, if authenticated
	ActorSubject *string `gorm:"size:255;index:idx_audit_actor_subject" json:"actor_subject,omitempty"`

	Action       string          `gorm:"size:100;not null;index:idx_audit_action" json:"action"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string         `gorm:"type:inet;index:idx_audit_ip_address" json:"ip_address,omitempty"`
	UserAgent    *string         `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionLinkCreated            = "referral_link_created"
	AuditActionLinkUpdated            = "referral_link_updated"
	AuditActionLinkDeleted            = "referral_link_deleted"
	AuditActionLinkCodeRegenerated    = "referral_link_code_regenerated"
	AuditActionReferralSubmitted      = "referral_submitted"
	AuditActionReferralStatusChanged  = "referral_status_changed"
	AuditActionReferralStatusReverted = "referral_status_reverted"
	AuditActionReferralShared         = "referral_shared"
	AuditActionReferralExported       = "referral_exported"
	AuditActionDemoProgressionStarted = "demo_progression_started"
	AuditActionPublicVerifyFailed     = "public_verify_failed"
	AuditActionPublicSubmissionFailed = "public_submission_failed"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	ClinicID      *uint
	ActorSubject  *string
	Action        *string
	Success       *bool
	IPAddress     *string
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
