package dto

import (
	"time"
)

// ReferralDTO represents a referral in responses
type ReferralDTO struct {
	UUID              string     `json:"uuid"`
	ReferralType      string     `json:"referral_type"`
	Status            string     `json:"status"`
	PatientName       string     `json:"patient_name"`
	PatientMobile     *string    `json:"patient_mobile,omitempty"`
	PatientEmail      *string    `json:"patient_email,omitempty"`
	Reason            string     `json:"reason"`
	Symptoms          []string   `json:"symptoms,omitempty"`
	FromClinicName    *string    `json:"from_clinic_name,omitempty"`
	ToClinicName      *string    `json:"to_clinic_name,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PostOpScheduledAt *time.Time `json:"post_op_scheduled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ListReferralsRequest represents filter criteria for listing referrals
type ListReferralsRequest struct {
	Page         int     `json:"page" validate:"omitempty,min=1"`
	PageSize     int     `json:"page_size" validate:"omitempty,min=1,max=100"`
	Status       *string `json:"status,omitempty"`
	ReferralType *string `json:"referral_type,omitempty"`
}

// ListReferralsResponse represents the response to list referrals
type ListReferralsResponse struct {
	Message   string        `json:"message"`
	Referrals []ReferralDTO `json:"referrals"`
	Total     int64         `json:"total"`
	Page      int           `json:"page"`
	PageSize  int           `json:"page_size"`
}

// UpdateReferralStatusRequest represents the request to move a referral to a new status
type UpdateReferralStatusRequest struct {
	UUID   string `json:"-"`
	Status string `json:"status" validate:"required"`
}

// UpdateReferralStatusResponse represents the response to a status change
type UpdateReferralStatusResponse struct {
	Message  string      `json:"message"`
	Referral ReferralDTO `json:"referral"`
}

// RevertReferralStageRequest represents the request to move a referral back to
// an earlier stage. Stage timestamps are preserved.
type RevertReferralStageRequest struct {
	UUID  string `json:"-"`
	Stage string `json:"stage" validate:"required"`
}

// ShareReferralResponse carries the share token for a referral timeline
type ShareReferralResponse struct {
	Message    string `json:"message"`
	ShareToken string `json:"share_token"`
}

// StartDemoProgressionRequest represents the request to start automated demo progression
type StartDemoProgressionRequest struct {
	UUID string `json:"-"`
	Fast bool   `json:"fast,omitempty"`
}

// StartDemoProgressionResponse represents the response to start automated demo progression
type StartDemoProgressionResponse struct {
	Message string `json:"message"`
}

// AttachmentDTO represents referral attachment metadata in responses
type AttachmentDTO struct {
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	IsDemo      bool      `json:"is_demo"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotificationDTO represents an in-app notification in responses
type NotificationDTO struct {
	ID        uint      `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListNotificationsResponse represents the response to list notifications
type ListNotificationsResponse struct {
	Message       string            `json:"message"`
	Notifications []NotificationDTO `json:"notifications"`
}
