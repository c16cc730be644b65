package businessflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
	"gorm.io/gorm"
)

// ReferralLinkFlow manages the lifecycle of magic links owned by a clinic.
// The access code plaintext leaves the flow exactly once per generation.
type ReferralLinkFlow interface {
	Create(ctx context.Context, tenant *Tenant, req *dto.CreateReferralLinkRequest, metadata *ClientMetadata) (*dto.CreateReferralLinkResponse, error)
	List(ctx context.Context, tenant *Tenant) (*dto.ListReferralLinksResponse, error)
	Update(ctx context.Context, tenant *Tenant, req *dto.UpdateReferralLinkRequest, metadata *ClientMetadata) (*dto.UpdateReferralLinkResponse, error)
	RegenerateAccessCode(ctx context.Context, tenant *Tenant, req *dto.RegenerateAccessCodeRequest, metadata *ClientMetadata) (*dto.RegenerateAccessCodeResponse, error)
	Delete(ctx context.Context, tenant *Tenant, linkUUID string, metadata *ClientMetadata) (*dto.DeleteReferralLinkResponse, error)
}

type ReferralLinkFlowImpl struct {
	db           *gorm.DB
	linkRepo     repository.ReferralLinkRepository
	referralRepo repository.ReferralRepository
	auditRepo    repository.AuditLogRepository
	tokenService services.TokenService
}

func NewReferralLinkFlow(
	db *gorm.DB,
	linkRepo repository.ReferralLinkRepository,
	referralRepo repository.ReferralRepository,
	auditRepo repository.AuditLogRepository,
	tokenService services.TokenService,
) ReferralLinkFlow {
	return &ReferralLinkFlowImpl{
		db:           db,
		linkRepo:     linkRepo,
		referralRepo: referralRepo,
		auditRepo:    auditRepo,
		tokenService: tokenService,
	}
}

func (f *ReferralLinkFlowImpl) Create(ctx context.Context, tenant *Tenant, req *dto.CreateReferralLinkRequest, metadata *ClientMetadata) (*dto.CreateReferralLinkResponse, error) {
	token, err := f.tokenService.GenerateLinkToken()
	if err != nil {
		return nil, NewBusinessError("LINK_TOKEN_FAILED", "Failed to generate link token", err)
	}
	code, err := f.tokenService.GenerateAccessCode(req.AccessCodeLength)
	if err != nil {
		return nil, NewBusinessError("ACCESS_CODE_FAILED", "Failed to generate access code", err)
	}
	hash, err := f.tokenService.HashAccessCode(code)
	if err != nil {
		return nil, NewBusinessError("ACCESS_CODE_FAILED", "Failed to hash access code", err)
	}

	link := &models.ReferralLink{
		UUID:           uuid.New(),
		ClinicID:       tenant.Clinic.ID,
		CreatedBy:      f.actorSubject(tenant, metadata),
		Token:          token,
		AccessCodeHash: hash,
		Label:          req.Label,
		IsActive:       utils.ToPtr(true),
	}
	if err := f.linkRepo.Save(ctx, link); err != nil {
		return nil, NewBusinessError("LINK_CREATE_FAILED", "Failed to create referral link", err)
	}

	f.audit(ctx, tenant, models.AuditActionLinkCreated,
		fmt.Sprintf("link %s created", link.UUID), true, metadata)

	return &dto.CreateReferralLinkResponse{
		Message:    "Referral link created",
		Link:       ToReferralLinkDTO(*link, 0),
		AccessCode: code,
	}, nil
}

func (f *ReferralLinkFlowImpl) List(ctx context.Context, tenant *Tenant) (*dto.ListReferralLinksResponse, error) {
	filter := models.ReferralLinkFilter{ClinicID: &tenant.Clinic.ID}
	rows, err := f.linkRepo.ByFilter(ctx, filter, "created_at DESC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LINK_LIST_FAILED", "Failed to list referral links", err)
	}

	links := make([]dto.ReferralLinkDTO, 0, len(rows))
	for _, row := range rows {
		count, err := f.referralRepo.Count(ctx, models.ReferralFilter{ReferralLinkID: &row.ID})
		if err != nil {
			return nil, NewBusinessError("LINK_LIST_FAILED", "Failed to count link referrals", err)
		}
		links = append(links, ToReferralLinkDTO(*row, count))
	}

	return &dto.ListReferralLinksResponse{
		Message: "Referral links retrieved",
		Links:   links,
	}, nil
}

func (f *ReferralLinkFlowImpl) Update(ctx context.Context, tenant *Tenant, req *dto.UpdateReferralLinkRequest, metadata *ClientMetadata) (*dto.UpdateReferralLinkResponse, error) {
	link, err := f.loadOwned(ctx, tenant, req.UUID)
	if err != nil {
		return nil, err
	}

	if req.Label != nil {
		if err := f.linkRepo.UpdateLabel(ctx, link.ID, *req.Label); err != nil {
			return nil, NewBusinessError("LINK_UPDATE_FAILED", "Failed to update link label", err)
		}
	}
	if req.IsActive != nil {
		if err := f.linkRepo.SetActive(ctx, link.ID, *req.IsActive); err != nil {
			return nil, NewBusinessError("LINK_UPDATE_FAILED", "Failed to toggle link", err)
		}
	}

	fresh, err := f.linkRepo.ByID(ctx, link.ID)
	if err != nil || fresh == nil {
		return nil, NewBusinessError("LINK_LOOKUP_FAILED", "Failed to reload referral link", err)
	}
	count, err := f.referralRepo.Count(ctx, models.ReferralFilter{ReferralLinkID: &link.ID})
	if err != nil {
		return nil, NewBusinessError("LINK_LOOKUP_FAILED", "Failed to count link referrals", err)
	}

	f.audit(ctx, tenant, models.AuditActionLinkUpdated,
		fmt.Sprintf("link %s updated", link.UUID), true, metadata)

	return &dto.UpdateReferralLinkResponse{
		Message: "Referral link updated",
		Link:    ToReferralLinkDTO(*fresh, count),
	}, nil
}

// RegenerateAccessCode rotates the access code. The old code stops working
// immediately; the new plaintext is returned once.
func (f *ReferralLinkFlowImpl) RegenerateAccessCode(ctx context.Context, tenant *Tenant, req *dto.RegenerateAccessCodeRequest, metadata *ClientMetadata) (*dto.RegenerateAccessCodeResponse, error) {
	link, err := f.loadOwned(ctx, tenant, req.UUID)
	if err != nil {
		return nil, err
	}

	code, err := f.tokenService.GenerateAccessCode(req.AccessCodeLength)
	if err != nil {
		return nil, NewBusinessError("ACCESS_CODE_FAILED", "Failed to generate access code", err)
	}
	hash, err := f.tokenService.HashAccessCode(code)
	if err != nil {
		return nil, NewBusinessError("ACCESS_CODE_FAILED", "Failed to hash access code", err)
	}

	if err := f.linkRepo.UpdateAccessCodeHash(ctx, link.ID, hash); err != nil {
		return nil, NewBusinessError("LINK_UPDATE_FAILED", "Failed to rotate access code", err)
	}

	f.audit(ctx, tenant, models.AuditActionLinkCodeRegenerated,
		fmt.Sprintf("link %s access code rotated", link.UUID), true, metadata)

	return &dto.RegenerateAccessCodeResponse{
		Message:    "Access code regenerated",
		AccessCode: code,
	}, nil
}

// Delete removes the link and detaches its referrals in one transaction.
// Referrals submitted through the link keep existing with a null back
// reference.
func (f *ReferralLinkFlowImpl) Delete(ctx context.Context, tenant *Tenant, linkUUID string, metadata *ClientMetadata) (*dto.DeleteReferralLinkResponse, error) {
	link, err := f.loadOwned(ctx, tenant, linkUUID)
	if err != nil {
		return nil, err
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.referralRepo.DetachFromLink(txCtx, link.ID); err != nil {
			return err
		}
		return f.linkRepo.Delete(txCtx, link.ID)
	})
	if err != nil {
		return nil, NewBusinessError("LINK_DELETE_FAILED", "Failed to delete referral link", err)
	}

	f.audit(ctx, tenant, models.AuditActionLinkDeleted,
		fmt.Sprintf("link %s deleted", link.UUID), true, metadata)

	return &dto.DeleteReferralLinkResponse{
		Message: "Referral link deleted",
	}, nil
}

func (f *ReferralLinkFlowImpl) loadOwned(ctx context.Context, tenant *Tenant, linkUUID string) (*models.ReferralLink, error) {
	link, err := f.linkRepo.ByUUID(ctx, linkUUID)
	if err != nil {
		return nil, NewBusinessError("LINK_LOOKUP_FAILED", "Failed to lookup referral link", err)
	}
	if link == nil || link.ClinicID != tenant.Clinic.ID {
		// Hide existence of foreign links
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (f *ReferralLinkFlowImpl) actorSubject(tenant *Tenant, metadata *ClientMetadata) string {
	if tenant != nil && tenant.Member != nil {
		return tenant.Member.Subject
	}
	if metadata != nil {
		return metadata.Additional["subject"]
	}
	return ""
}

func (f *ReferralLinkFlowImpl) audit(ctx context.Context, tenant *Tenant, action, description string, success bool, metadata *ClientMetadata) {
	ipAddress := "127.0.0.1"
	userAgent := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
	}
	subject := f.actorSubject(tenant, metadata)

	audit := &models.AuditLog{
		ClinicID:     &tenant.Clinic.ID,
		ActorSubject: &subject,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		audit.RequestID = &requestID
	}

	_ = f.auditRepo.Save(ctx, audit)
}
