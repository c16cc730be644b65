package dto

import (
	"time"
)

// LinkMetadataResponse represents the public metadata shown on a magic link
// landing page before any access code is entered.
type LinkMetadataResponse struct {
	ClinicName     string  `json:"clinic_name"`
	SpecialistName *string `json:"specialist_name,omitempty"`
	Label          string  `json:"label"`
}

// VerifyLinkAccessRequest represents the access code check on a magic link
type VerifyLinkAccessRequest struct {
	AccessCode string `json:"access_code" validate:"required,numeric,min=4,max=8"`
}

// VerifyLinkAccessResponse represents a successful access code check
type VerifyLinkAccessResponse struct {
	Message string `json:"message"`
}

// SubmitReferralRequest represents a public referral submission through a magic link
type SubmitReferralRequest struct {
	AccessCode    string   `json:"access_code" validate:"required,numeric,min=4,max=8"`
	PatientName   string   `json:"patient_name" validate:"required,min=1,max=200"`
	PatientMobile *string  `json:"patient_mobile,omitempty" validate:"omitempty,e164"`
	PatientEmail  *string  `json:"patient_email,omitempty" validate:"omitempty,email"`
	Reason        string   `json:"reason" validate:"required,min=1,max=2000"`
	Symptoms      []string `json:"symptoms,omitempty" validate:"omitempty,max=30,dive,min=1,max=120"`
}

// SubmitReferralResponse carries the status token the patient uses to follow
// their referral.
type SubmitReferralResponse struct {
	Message     string `json:"message"`
	UUID        string `json:"uuid"`
	StatusToken string `json:"status_token"`
}

// TimelineStageDTO represents one stage of a referral treatment timeline
type TimelineStageDTO struct {
	Stage      string     `json:"stage"`
	Completed  bool       `json:"completed"`
	Current    bool       `json:"current"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// ReferralStatusResponse represents the public status page payload
type ReferralStatusResponse struct {
	Status      string             `json:"status"`
	ClinicName  string             `json:"clinic_name"`
	PatientName string             `json:"patient_name"`
	Timeline    []TimelineStageDTO `json:"timeline"`
	Attachments []AttachmentDTO    `json:"attachments,omitempty"`
}
