// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/refermed/refermed/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// ClinicRepository defines operations for clinics
type ClinicRepository interface {
	Repository[models.Clinic, models.ClinicFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Clinic, error)
}

// ClinicMemberRepository defines operations for clinic members
type ClinicMemberRepository interface {
	Repository[models.ClinicMember, models.ClinicMemberFilter]
	BySubject(ctx context.Context, subject string) (*models.ClinicMember, error)
}

// ReferralRepository defines operations for referrals
type ReferralRepository interface {
	Repository[models.Referral, models.ReferralFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Referral, error)
	ByStatusToken(ctx context.Context, token string) (*models.Referral, error)
	ByShareToken(ctx context.Context, token string) (*models.Referral, error)
	// AdvanceStatus performs a single conditional write: the status moves to
	// target and the given stage stamps are applied with COALESCE semantics,
	// but only while the stored status sits strictly below target in the
	// canonical order. Returns false when the row was not eligible.
	AdvanceStatus(ctx context.Context, id uint, target models.ReferralStatus, stamps StageStamps) (bool, error)
	// UpdateStatus sets the status unconditionally (terminal exits, reverts).
	UpdateStatus(ctx context.Context, id uint, status models.ReferralStatus) error
	// SetShareToken stores the share token only if none exists yet; returns
	// the winning token.
	SetShareToken(ctx context.Context, id uint, token string) (string, error)
	// DetachFromLink clears the link back reference on all referrals created
	// through the given link.
	DetachFromLink(ctx context.Context, linkID uint) error
}

// StageStamps carries the nullable write-once stage timestamps applied during
// a status advance. Nil fields are left untouched; non-nil fields are written
// only where the column is still NULL.
type StageStamps struct {
	AcceptedAt        *time.Time
	ScheduledAt       *time.Time
	CompletedAt       *time.Time
	PostOpScheduledAt *time.Time
}

// ReferralLinkRepository defines operations for referral links
type ReferralLinkRepository interface {
	Repository[models.ReferralLink, models.ReferralLinkFilter]
	ByUUID(ctx context.Context, uuid string) (*models.ReferralLink, error)
	ByToken(ctx context.Context, token string) (*models.ReferralLink, error)
	UpdateAccessCodeHash(ctx context.Context, id uint, hash string) error
	SetActive(ctx context.Context, id uint, active bool) error
	UpdateLabel(ctx context.Context, id uint, label string) error
	Delete(ctx context.Context, id uint) error
}

// ReferralAttachmentRepository defines operations for referral attachments
type ReferralAttachmentRepository interface {
	Repository[models.ReferralAttachment, models.ReferralAttachmentFilter]
	ListByReferral(ctx context.Context, referralID uint) ([]*models.ReferralAttachment, error)
}

// NotificationRepository defines operations for in-app notifications
type NotificationRepository interface {
	Repository[models.Notification, models.NotificationFilter]
	ListByClinic(ctx context.Context, clinicID uint, limit, offset int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id uint) error
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByClinic(ctx context.Context, clinicID uint, limit, offset int) ([]*models.AuditLog, error)
	ListFailedActions(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}
