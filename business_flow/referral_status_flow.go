package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
)

// ReferralStatusFlow is the status machine for referrals.
//
// Forward movement along the canonical order goes through Transition, which
// stamps stage timestamps cumulatively and write-once. Moving a referral back
// is a separate, explicit RevertStage operation that changes the status only
// and never touches timestamps. Terminal statuses absorb from any non-terminal
// status and stamp nothing.
type ReferralStatusFlow interface {
	Transition(ctx context.Context, referralUUID string, clinic *models.Clinic, target models.ReferralStatus, metadata *ClientMetadata) (*dto.UpdateReferralStatusResponse, error)
	RevertStage(ctx context.Context, referralUUID string, clinic *models.Clinic, target models.ReferralStatus, metadata *ClientMetadata) (*dto.UpdateReferralStatusResponse, error)
	// AdvanceAt applies a forward move with caller-provided stamps. Used by
	// the automation scheduler with precomputed stage times. Returns false
	// without error when the referral was already at or past the target.
	AdvanceAt(ctx context.Context, referralID uint, target models.ReferralStatus, stamps repository.StageStamps) (bool, error)
}

type ReferralStatusFlowImpl struct {
	referralRepo        repository.ReferralRepository
	clinicRepo          repository.ClinicRepository
	auditRepo           repository.AuditLogRepository
	notificationService services.NotificationService
}

func NewReferralStatusFlow(
	referralRepo repository.ReferralRepository,
	clinicRepo repository.ClinicRepository,
	auditRepo repository.AuditLogRepository,
	notificationService services.NotificationService,
) ReferralStatusFlow {
	return &ReferralStatusFlowImpl{
		referralRepo:        referralRepo,
		clinicRepo:          clinicRepo,
		auditRepo:           auditRepo,
		notificationService: notificationService,
	}
}

// StampsForTarget builds the cumulative stage stamps for a forward move: every
// stage at or below the target gets the same timestamp. The repository layer
// keeps already-stamped stages untouched.
func StampsForTarget(target models.ReferralStatus, at time.Time) repository.StageStamps {
	targetIdx, ok := target.OrderIndex()
	if !ok {
		return repository.StageStamps{}
	}
	stamps := repository.StageStamps{}
	if targetIdx >= 1 {
		stamps.AcceptedAt = &at
		stamps.ScheduledAt = &at
	}
	if targetIdx >= 2 {
		stamps.CompletedAt = &at
	}
	if targetIdx >= 3 {
		stamps.PostOpScheduledAt = &at
	}
	return stamps
}

func (f *ReferralStatusFlowImpl) Transition(ctx context.Context, referralUUID string, clinic *models.Clinic, target models.ReferralStatus, metadata *ClientMetadata) (*dto.UpdateReferralStatusResponse, error) {
	if !target.Valid() || target == models.ReferralStatusDraft {
		return nil, ErrInvalidStatus
	}

	referral, err := f.loadOwned(ctx, referralUUID, clinic)
	if err != nil {
		return nil, err
	}

	if referral.Status == target {
		// Idempotent repeat of the last transition
		return f.response(ctx, referral.ID, "Referral status unchanged")
	}
	if referral.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}

	if target.IsTerminal() {
		if err := f.referralRepo.UpdateStatus(ctx, referral.ID, target); err != nil {
			return nil, NewBusinessError("REFERRAL_STATUS_UPDATE_FAILED", "Failed to update referral status", err)
		}
		f.audit(ctx, clinic, referral, models.AuditActionReferralStatusChanged,
			fmt.Sprintf("status %s -> %s", referral.Status, target), true, metadata)
		return f.response(ctx, referral.ID, "Referral status updated")
	}

	targetIdx, _ := target.OrderIndex()
	currentIdx, currentCanonical := referral.Status.OrderIndex()
	if currentCanonical && currentIdx >= targetIdx {
		return nil, ErrInvalidTransition
	}

	ok, err := f.referralRepo.AdvanceStatus(ctx, referral.ID, target, StampsForTarget(target, utils.UTCNow()))
	if err != nil {
		return nil, NewBusinessError("REFERRAL_STATUS_UPDATE_FAILED", "Failed to advance referral status", err)
	}
	if !ok {
		// Lost a race; the row moved to or past the target in the meantime.
		fresh, err := f.referralRepo.ByID(ctx, referral.ID)
		if err == nil && fresh != nil && fresh.Status == target {
			return f.response(ctx, referral.ID, "Referral status unchanged")
		}
		return nil, ErrInvalidTransition
	}

	if targetIdx >= 1 && (!currentCanonical || currentIdx < 1) {
		f.notifyAccepted(ctx, referral)
	}

	f.audit(ctx, clinic, referral, models.AuditActionReferralStatusChanged,
		fmt.Sprintf("status %s -> %s", referral.Status, target), true, metadata)

	return f.response(ctx, referral.ID, "Referral status updated")
}

func (f *ReferralStatusFlowImpl) RevertStage(ctx context.Context, referralUUID string, clinic *models.Clinic, target models.ReferralStatus, metadata *ClientMetadata) (*dto.UpdateReferralStatusResponse, error) {
	targetIdx, ok := target.OrderIndex()
	if !ok {
		return nil, ErrNotCanonicalStage
	}

	referral, err := f.loadOwned(ctx, referralUUID, clinic)
	if err != nil {
		return nil, err
	}

	if referral.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}
	currentIdx, currentCanonical := referral.Status.OrderIndex()
	if !currentCanonical || currentIdx <= targetIdx {
		return nil, ErrRevertNotAllowed
	}

	// Status only. Stage timestamps survive the revert so a later forward
	// move keeps the original stamps.
	if err := f.referralRepo.UpdateStatus(ctx, referral.ID, target); err != nil {
		return nil, NewBusinessError("REFERRAL_STATUS_UPDATE_FAILED", "Failed to revert referral status", err)
	}

	f.audit(ctx, clinic, referral, models.AuditActionReferralStatusReverted,
		fmt.Sprintf("status %s -> %s", referral.Status, target), true, metadata)

	return f.response(ctx, referral.ID, "Referral status reverted")
}

func (f *ReferralStatusFlowImpl) AdvanceAt(ctx context.Context, referralID uint, target models.ReferralStatus, stamps repository.StageStamps) (bool, error) {
	if _, ok := target.OrderIndex(); !ok {
		return false, ErrNotCanonicalStage
	}
	advanced, err := f.referralRepo.AdvanceStatus(ctx, referralID, target, stamps)
	if err != nil {
		return false, NewBusinessError("REFERRAL_STATUS_UPDATE_FAILED", "Failed to advance referral status", err)
	}
	return advanced, nil
}

func (f *ReferralStatusFlowImpl) loadOwned(ctx context.Context, referralUUID string, clinic *models.Clinic) (*models.Referral, error) {
	referral, err := f.referralRepo.ByUUID(ctx, referralUUID)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LOOKUP_FAILED", "Failed to lookup referral", err)
	}
	if referral == nil {
		return nil, ErrReferralNotFound
	}
	if clinic == nil {
		return nil, ErrReferralAccessDenied
	}
	if referral.FromClinicID != clinic.ID && (referral.ToClinicID == nil || *referral.ToClinicID != clinic.ID) {
		return nil, ErrReferralAccessDenied
	}
	return referral, nil
}

func (f *ReferralStatusFlowImpl) response(ctx context.Context, referralID uint, message string) (*dto.UpdateReferralStatusResponse, error) {
	fresh, err := f.referralRepo.ByID(ctx, referralID)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LOOKUP_FAILED", "Failed to reload referral", err)
	}
	if fresh == nil {
		return nil, ErrReferralNotFound
	}
	return &dto.UpdateReferralStatusResponse{
		Message:  message,
		Referral: ToReferralDTO(*fresh),
	}, nil
}

// notifyAccepted informs the referring clinic and the patient that the
// destination clinic accepted the referral. Failures are swallowed; the
// transition itself already committed.
func (f *ReferralStatusFlowImpl) notifyAccepted(ctx context.Context, referral *models.Referral) {
	if f.notificationService == nil {
		return
	}

	// Incoming referrals have no recipient clinic; the owner accepted them.
	clinicName := "the clinic"
	treatingClinicID := referral.FromClinicID
	if referral.ToClinicID != nil {
		treatingClinicID = *referral.ToClinicID
	}
	if clinic, err := f.clinicRepo.ByID(ctx, treatingClinicID); err == nil && clinic != nil {
		clinicName = clinic.Name
	}

	_ = f.notificationService.Notify(ctx, &models.Notification{
		ClinicID:   referral.FromClinicID,
		ReferralID: &referral.ID,
		Type:       models.NotificationTypeReferralAccepted,
		Title:      "Referral accepted",
		Message:    fmt.Sprintf("Referral for %s was accepted by %s", referral.PatientName, clinicName),
	})

	msg := fmt.Sprintf("Your referral to %s was accepted. Follow your treatment timeline with your status link.", clinicName)
	if referral.PatientMobile != nil && *referral.PatientMobile != "" {
		_ = f.notificationService.SendSMS(ctx, *referral.PatientMobile, msg)
	} else if referral.PatientEmail != nil && *referral.PatientEmail != "" {
		_ = f.notificationService.SendEmail(ctx, *referral.PatientEmail, "Referral accepted", msg)
	}
}

func (f *ReferralStatusFlowImpl) audit(ctx context.Context, clinic *models.Clinic, referral *models.Referral, action, description string, success bool, metadata *ClientMetadata) {
	ipAddress := "127.0.0.1"
	userAgent := ""
	actorSubject := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
		actorSubject = metadata.Additional["subject"]
	}

	var clinicID *uint
	if clinic != nil {
		clinicID = &clinic.ID
	}
	var referralID *uint
	if referral != nil {
		referralID = &referral.ID
	}

	audit := &models.AuditLog{
		ClinicID:     clinicID,
		ReferralID:   referralID,
		ActorSubject: &actorSubject,
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
