package businessflow

import (
	"context"
	"fmt"

	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
)

// ProgressionScheduler is the scheduling surface the flow needs. Scheduling
// the same referral twice reports false and changes nothing.
type ProgressionScheduler interface {
	ScheduleProgression(referralID uint) bool
	ScheduleFastProgression(referralID uint) bool
}

// DemoProgressionFlow starts automated demo progression for a referral owned
// by the acting tenant.
type DemoProgressionFlow interface {
	Start(ctx context.Context, tenant *Tenant, req *dto.StartDemoProgressionRequest, metadata *ClientMetadata) (*dto.StartDemoProgressionResponse, error)
}

type DemoProgressionFlowImpl struct {
	referralRepo repository.ReferralRepository
	auditRepo    repository.AuditLogRepository
	scheduler    ProgressionScheduler
	enabled      bool
}

// NewDemoProgressionFlow creates the flow. The enabled flag is decided at
// wiring time from the deployment environment and the demo config override.
func NewDemoProgressionFlow(
	referralRepo repository.ReferralRepository,
	auditRepo repository.AuditLogRepository,
	scheduler ProgressionScheduler,
	enabled bool,
) DemoProgressionFlow {
	return &DemoProgressionFlowImpl{
		referralRepo: referralRepo,
		auditRepo:    auditRepo,
		scheduler:    scheduler,
		enabled:      enabled,
	}
}

func (f *DemoProgressionFlowImpl) Start(ctx context.Context, tenant *Tenant, req *dto.StartDemoProgressionRequest, metadata *ClientMetadata) (*dto.StartDemoProgressionResponse, error) {
	if !f.enabled || f.scheduler == nil {
		return nil, ErrDemoDisabled
	}

	referral, err := f.referralRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LOOKUP_FAILED", "Failed to lookup referral", err)
	}
	if referral == nil {
		return nil, ErrReferralNotFound
	}
	if referral.FromClinicID != tenant.Clinic.ID && (referral.ToClinicID == nil || *referral.ToClinicID != tenant.Clinic.ID) {
		return nil, ErrReferralAccessDenied
	}
	if referral.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}

	var scheduled bool
	if req.Fast {
		scheduled = f.scheduler.ScheduleFastProgression(referral.ID)
	} else {
		scheduled = f.scheduler.ScheduleProgression(referral.ID)
	}
	if !scheduled {
		// Already registered; treat the repeat as a no-op.
		return &dto.StartDemoProgressionResponse{Message: "Demo progression already scheduled"}, nil
	}

	f.audit(ctx, tenant, referral, metadata)

	return &dto.StartDemoProgressionResponse{Message: "Demo progression scheduled"}, nil
}

func (f *DemoProgressionFlowImpl) audit(ctx context.Context, tenant *Tenant, referral *models.Referral, metadata *ClientMetadata) {
	ipAddress := "127.0.0.1"
	userAgent := ""
	subject := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
		subject = metadata.Additional["subject"]
	}
	if tenant.Member != nil {
		subject = tenant.Member.Subject
	}

	description := fmt.Sprintf("demo progression started for referral %s", referral.UUID)
	audit := &models.AuditLog{
		ClinicID:     &tenant.Clinic.ID,
		ReferralID:   &referral.ID,
		ActorSubject: &subject,
		Action:       models.AuditActionDemoProgressionStarted,
		Description:  &description,
		Success:      utils.ToPtr(true),
		IPAddress:    &ipAddress,
		UserAgent:    &userAgent,
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		audit.RequestID = &requestID
	}

	_ = f.auditRepo.Save(ctx, audit)
}
