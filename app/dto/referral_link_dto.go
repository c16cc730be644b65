package dto

import (
	"time"
)

// CreateReferralLinkRequest represents the request to create a new referral link
type CreateReferralLinkRequest struct {
	Label            string `json:"label" validate:"required,min=1,max=120"`
	AccessCodeLength int    `json:"access_code_length,omitempty" validate:"omitempty,min=4,max=8"`
}

// ReferralLinkDTO represents a referral link in responses
type ReferralLinkDTO struct {
	UUID          string    `json:"uuid"`
	Label         string    `json:"label"`
	Token         string    `json:"token"`
	IsActive      bool      `json:"is_active"`
	ReferralCount int64     `json:"referral_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateReferralLinkResponse carries the new link and the one-time plaintext
// access code. The code is never retrievable again.
type CreateReferralLinkResponse struct {
	Message    string          `json:"message"`
	Link       ReferralLinkDTO `json:"link"`
	AccessCode string          `json:"access_code"`
}

// UpdateReferralLinkRequest represents the request to update an existing referral link
type UpdateReferralLinkRequest struct {
	UUID     string  `json:"-"`
	Label    *string `json:"label,omitempty" validate:"omitempty,min=1,max=120"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// UpdateReferralLinkResponse represents the response to update an existing referral link
type UpdateReferralLinkResponse struct {
	Message string          `json:"message"`
	Link    ReferralLinkDTO `json:"link"`
}

// RegenerateAccessCodeRequest represents the request to rotate a link's access code
type RegenerateAccessCodeRequest struct {
	UUID             string `json:"-"`
	AccessCodeLength int    `json:"access_code_length,omitempty" validate:"omitempty,min=4,max=8"`
}

// RegenerateAccessCodeResponse carries the new one-time plaintext access code
type RegenerateAccessCodeResponse struct {
	Message    string `json:"message"`
	AccessCode string `json:"access_code"`
}

// ListReferralLinksResponse represents the response to list referral links
type ListReferralLinksResponse struct {
	Message string            `json:"message"`
	Links   []ReferralLinkDTO `json:"links"`
}

// DeleteReferralLinkResponse represents the response to delete a referral link
type DeleteReferralLinkResponse struct {
	Message string `json:"message"`
}
