package models

import "time"

// Notification type constants
const (
	NotificationTypeReferralSubmitted = "referral_submitted"
	NotificationTypeReferralAccepted  = "referral_accepted"
	NotificationTypeReferralCompleted = "referral_completed"
)

// Notification is an in-app notification for a clinic. Delivery is
// best-effort; the referral flows never fail because a notification row could
// not be written.
type Notification struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	ClinicID uint    `gorm:"not null;index:idx_notifications_clinic_id" json:"clinic_id"`
	Clinic   *Clinic `gorm:"foreignKey:ClinicID;references:ID" json:"-"`

	ReferralID *uint     `gorm:"index:idx_notifications_referral_id" json:"referral_id,omitempty"`
	Referral   *Referral `gorm:"foreignKey:ReferralID;references:ID" json:"-"`

	Type    string `gorm:"size:50;not null" json:"type"`
	Title   string `gorm:"size:255;not null" json:"title"`
	Message string `gorm:"type:text;not null" json:"message"`

	IsRead *bool `gorm:"default:false;index:idx_notifications_is_read" json:"is_read"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_notifications_created_at" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// NotificationFilter represents filter criteria for notification queries
type NotificationFilter struct {
	ID            *uint
	ClinicID      *uint
	ReferralID    *uint
	Type          *string
	IsRead        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
