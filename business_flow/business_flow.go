// Package businessflow contains the business logic for the application.
package businessflow

import (
	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
)

// RequestIDKey is the context key handlers use to pass the request id down for
// audit logging.
const RequestIDKey = utils.RequestIDKey

// ClientMetadata holds all client-related information for audit logging
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToReferralDTO converts a referral model for API responses
func ToReferralDTO(referral models.Referral) dto.ReferralDTO {
	out := dto.ReferralDTO{
		UUID:              referral.UUID.String(),
		ReferralType:      referral.ReferralType,
		Status:            referral.Status.String(),
		PatientName:       referral.PatientName,
		PatientMobile:     referral.PatientMobile,
		PatientEmail:      referral.PatientEmail,
		Reason:            referral.Reason,
		Symptoms:          referral.Symptoms,
		AcceptedAt:        referral.AcceptedAt,
		ScheduledAt:       referral.ScheduledAt,
		CompletedAt:       referral.CompletedAt,
		PostOpScheduledAt: referral.PostOpScheduledAt,
		CreatedAt:         referral.CreatedAt,
		UpdatedAt:         referral.UpdatedAt,
	}
	if referral.FromClinic != nil {
		out.FromClinicName = &referral.FromClinic.Name
	}
	if referral.ToClinic != nil {
		out.ToClinicName = &referral.ToClinic.Name
	}
	return out
}

// ToReferralLinkDTO converts a referral link model for API responses
func ToReferralLinkDTO(link models.ReferralLink, referralCount int64) dto.ReferralLinkDTO {
	return dto.ReferralLinkDTO{
		UUID:          link.UUID.String(),
		Label:         link.Label,
		Token:         link.Token,
		IsActive:      link.IsActive != nil && *link.IsActive,
		ReferralCount: referralCount,
		CreatedAt:     link.CreatedAt,
		UpdatedAt:     link.UpdatedAt,
	}
}

// ToAttachmentDTO converts attachment metadata for API responses
func ToAttachmentDTO(attachment models.ReferralAttachment) dto.AttachmentDTO {
	return dto.AttachmentDTO{
		FileName:    attachment.FileName,
		ContentType: attachment.ContentType,
		SizeBytes:   attachment.SizeBytes,
		IsDemo:      attachment.IsDemo != nil && *attachment.IsDemo,
		CreatedAt:   attachment.CreatedAt,
	}
}

// ToNotificationDTO converts a notification model for API responses
func ToNotificationDTO(notification models.Notification) dto.NotificationDTO {
	return dto.NotificationDTO{
		ID:        notification.ID,
		Type:      notification.Type,
		Title:     notification.Title,
		Message:   notification.Message,
		IsRead:    notification.IsRead != nil && *notification.IsRead,
		CreatedAt: notification.CreatedAt,
	}
}
