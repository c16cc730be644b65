package businessflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/config"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
	"gorm.io/gorm"
)

// PublicReferralFlow serves the unauthenticated magic-link surface: link
// metadata, access-code verification, referral submission and the patient
// status page.
//
// Every access failure on a link (unknown token, inactive link, wrong code)
// maps to the same ErrLinkUnauthorized so a caller probing the endpoint
// cannot distinguish the cases.
type PublicReferralFlow interface {
	LinkMetadata(ctx context.Context, token string) (*dto.LinkMetadataResponse, error)
	VerifyAccess(ctx context.Context, token, accessCode string, metadata *ClientMetadata) (*dto.VerifyLinkAccessResponse, error)
	Submit(ctx context.Context, token string, req *dto.SubmitReferralRequest, metadata *ClientMetadata) (*dto.SubmitReferralResponse, error)
	Status(ctx context.Context, statusToken, accessCode string, metadata *ClientMetadata) (*dto.ReferralStatusResponse, error)
}

type PublicReferralFlowImpl struct {
	db                  *gorm.DB
	linkRepo            repository.ReferralLinkRepository
	referralRepo        repository.ReferralRepository
	clinicRepo          repository.ClinicRepository
	attachmentRepo      repository.ReferralAttachmentRepository
	auditRepo           repository.AuditLogRepository
	tokenService        services.TokenService
	notificationService services.NotificationService
	rc                  *redis.Client
	cacheConfig         *config.CacheConfig
}

func NewPublicReferralFlow(
	db *gorm.DB,
	linkRepo repository.ReferralLinkRepository,
	referralRepo repository.ReferralRepository,
	clinicRepo repository.ClinicRepository,
	attachmentRepo repository.ReferralAttachmentRepository,
	auditRepo repository.AuditLogRepository,
	tokenService services.TokenService,
	notificationService services.NotificationService,
	rc *redis.Client,
	cacheConfig *config.CacheConfig,
) PublicReferralFlow {
	return &PublicReferralFlowImpl{
		db:                  db,
		linkRepo:            linkRepo,
		referralRepo:        referralRepo,
		clinicRepo:          clinicRepo,
		attachmentRepo:      attachmentRepo,
		auditRepo:           auditRepo,
		tokenService:        tokenService,
		notificationService: notificationService,
		rc:                  rc,
		cacheConfig:         cacheConfig,
	}
}

func (f *PublicReferralFlowImpl) cacheKey(token string) string {
	prefix := "refermed"
	if f.cacheConfig != nil && f.cacheConfig.RedisPrefix != "" {
		prefix = f.cacheConfig.RedisPrefix
	}
	return fmt.Sprintf("%s:link_meta:%s", prefix, token)
}

// LinkMetadata returns the clinic-facing metadata of an active link. Results
// are cached briefly in redis; inactive and unknown links are never cached.
func (f *PublicReferralFlowImpl) LinkMetadata(ctx context.Context, token string) (*dto.LinkMetadataResponse, error) {
	if f.rc != nil && f.cacheConfig != nil && f.cacheConfig.Enabled {
		if bs, err := f.rc.Get(ctx, f.cacheKey(token)).Bytes(); err == nil && len(bs) > 0 {
			var out dto.LinkMetadataResponse
			if err := json.Unmarshal(bs, &out); err == nil {
				return &out, nil
			}
		}
	}

	link, err := f.activeLink(ctx, token)
	if err != nil {
		return nil, err
	}

	clinic, err := f.clinicRepo.ByID(ctx, link.ClinicID)
	if err != nil {
		return nil, NewBusinessError("CLINIC_LOOKUP_FAILED", "Failed to lookup clinic", err)
	}
	if clinic == nil || clinic.IsActive == nil || !*clinic.IsActive {
		return nil, ErrLinkUnauthorized
	}

	out := &dto.LinkMetadataResponse{
		ClinicName:     clinic.Name,
		SpecialistName: clinic.SpecialistName,
		Label:          link.Label,
	}

	if f.rc != nil && f.cacheConfig != nil && f.cacheConfig.Enabled {
		if bs, err := json.Marshal(out); err == nil {
			_ = f.rc.Set(ctx, f.cacheKey(token), bs, f.cacheConfig.DefaultTTL).Err()
		}
	}

	return out, nil
}

func (f *PublicReferralFlowImpl) VerifyAccess(ctx context.Context, token, accessCode string, metadata *ClientMetadata) (*dto.VerifyLinkAccessResponse, error) {
	if _, err := f.verifiedLink(ctx, token, accessCode, metadata); err != nil {
		return nil, err
	}
	return &dto.VerifyLinkAccessResponse{Message: "Access code accepted"}, nil
}

// Submit re-verifies the access code and creates the referral. The new
// referral carries a fresh status token and inherits the link's access code
// hash, so the status page is gated by the code the submitter already knows.
func (f *PublicReferralFlowImpl) Submit(ctx context.Context, token string, req *dto.SubmitReferralRequest, metadata *ClientMetadata) (*dto.SubmitReferralResponse, error) {
	link, err := f.verifiedLink(ctx, token, req.AccessCode, metadata)
	if err != nil {
		f.auditPublic(ctx, nil, models.AuditActionPublicSubmissionFailed, "submission rejected", metadata)
		return nil, err
	}

	statusToken, err := f.tokenService.GenerateLinkToken()
	if err != nil {
		return nil, NewBusinessError("STATUS_TOKEN_FAILED", "Failed to generate status token", err)
	}

	codeHash := link.AccessCodeHash
	referral := &models.Referral{
		UUID:                 uuid.New(),
		ReferralType:         models.ReferralTypeIncoming,
		Status:               models.ReferralStatusSubmitted,
		FromClinicID:         link.ClinicID,
		ReferralLinkID:       &link.ID,
		PatientName:          req.PatientName,
		PatientMobile:        req.PatientMobile,
		PatientEmail:         req.PatientEmail,
		Reason:               req.Reason,
		Symptoms:             req.Symptoms,
		StatusToken:          statusToken,
		StatusAccessCodeHash: &codeHash,
	}

	if err := f.referralRepo.Save(ctx, referral); err != nil {
		return nil, NewBusinessError("REFERRAL_CREATE_FAILED", "Failed to create referral", err)
	}

	f.auditPublic(ctx, &link.ClinicID, models.AuditActionReferralSubmitted,
		fmt.Sprintf("referral %s submitted via link %s", referral.UUID, link.UUID), metadata)

	if f.notificationService != nil {
		_ = f.notificationService.Notify(ctx, &models.Notification{
			ClinicID:   link.ClinicID,
			ReferralID: &referral.ID,
			Type:       models.NotificationTypeReferralSubmitted,
			Title:      "New referral",
			Message:    fmt.Sprintf("New referral for %s via link %q", referral.PatientName, link.Label),
		})
	}

	return &dto.SubmitReferralResponse{
		Message:     "Referral submitted",
		UUID:        referral.UUID.String(),
		StatusToken: statusToken,
	}, nil
}

// Status renders the patient status page behind a status token. When the
// referral carries an access code hash the code is mandatory.
func (f *PublicReferralFlowImpl) Status(ctx context.Context, statusToken, accessCode string, metadata *ClientMetadata) (*dto.ReferralStatusResponse, error) {
	referral, err := f.referralRepo.ByStatusToken(ctx, statusToken)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LOOKUP_FAILED", "Failed to lookup referral", err)
	}
	if referral == nil {
		return nil, ErrLinkUnauthorized
	}

	if referral.StatusAccessCodeHash != nil && *referral.StatusAccessCodeHash != "" {
		if !f.tokenService.VerifyAccessCode(*referral.StatusAccessCodeHash, accessCode) {
			f.auditPublic(ctx, &referral.FromClinicID, models.AuditActionPublicVerifyFailed,
				"status page access code rejected", metadata)
			return nil, ErrLinkUnauthorized
		}
	}

	clinicName := ""
	if clinic, err := f.clinicRepo.ByID(ctx, referral.FromClinicID); err == nil && clinic != nil {
		clinicName = clinic.Name
	}

	attachments := make([]dto.AttachmentDTO, 0)
	if rows, err := f.attachmentRepo.ListByReferral(ctx, referral.ID); err == nil {
		for _, row := range rows {
			attachments = append(attachments, ToAttachmentDTO(*row))
		}
	}

	return &dto.ReferralStatusResponse{
		Status:      referral.Status.String(),
		ClinicName:  clinicName,
		PatientName: referral.PatientName,
		Timeline:    BuildTimeline(referral),
		Attachments: attachments,
	}, nil
}

// activeLink resolves a token to an active link or ErrLinkUnauthorized.
func (f *PublicReferralFlowImpl) activeLink(ctx context.Context, token string) (*models.ReferralLink, error) {
	if token == "" {
		return nil, ErrLinkUnauthorized
	}
	link, err := f.linkRepo.ByToken(ctx, token)
	if err != nil {
		return nil, NewBusinessError("LINK_LOOKUP_FAILED", "Failed to lookup referral link", err)
	}
	if link == nil || link.IsActive == nil || !*link.IsActive {
		return nil, ErrLinkUnauthorized
	}
	return link, nil
}

func (f *PublicReferralFlowImpl) verifiedLink(ctx context.Context, token, accessCode string, metadata *ClientMetadata) (*models.ReferralLink, error) {
	link, err := f.activeLink(ctx, token)
	if err != nil {
		if IsLinkUnauthorized(err) {
			f.auditPublic(ctx, nil, models.AuditActionPublicVerifyFailed, "link rejected", metadata)
		}
		return nil, err
	}
	if !f.tokenService.VerifyAccessCode(link.AccessCodeHash, accessCode) {
		f.auditPublic(ctx, &link.ClinicID, models.AuditActionPublicVerifyFailed, "access code rejected", metadata)
		return nil, ErrLinkUnauthorized
	}
	return link, nil
}

func (f *PublicReferralFlowImpl) auditPublic(ctx context.Context, clinicID *uint, action, description string, metadata *ClientMetadata) {
	ipAddress := "127.0.0.1"
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}

	success := action == models.AuditActionReferralSubmitted

	audit := &models.AuditLog{
		ClinicID:    clinicID,
		Action:      action,
		Description: &description,
		Success:     utils.ToPtr(success),
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		audit.RequestID = &requestID
	}

	_ = f.auditRepo.Save(ctx, audit)
}
