package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/app/services"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
	"github.com/refermed/refermed/utils"
	"github.com/xuri/excelize/v2"
)

// ReferralFlow covers the authenticated, tenant-scoped referral operations
// outside the status machine: listing, lookup, sharing and export.
type ReferralFlow interface {
	List(ctx context.Context, tenant *Tenant, req *dto.ListReferralsRequest) (*dto.ListReferralsResponse, error)
	Get(ctx context.Context, tenant *Tenant, referralUUID string) (*dto.ReferralDTO, error)
	Share(ctx context.Context, tenant *Tenant, referralUUID string, metadata *ClientMetadata) (*dto.ShareReferralResponse, error)
	Export(ctx context.Context, tenant *Tenant, metadata *ClientMetadata) (string, []byte, error)
}

type ReferralFlowImpl struct {
	referralRepo repository.ReferralRepository
	auditRepo    repository.AuditLogRepository
	tokenService services.TokenService
}

func NewReferralFlow(
	referralRepo repository.ReferralRepository,
	auditRepo repository.AuditLogRepository,
	tokenService services.TokenService,
) ReferralFlow {
	return &ReferralFlowImpl{
		referralRepo: referralRepo,
		auditRepo:    auditRepo,
		tokenService: tokenService,
	}
}

func (f *ReferralFlowImpl) List(ctx context.Context, tenant *Tenant, req *dto.ListReferralsRequest) (*dto.ListReferralsResponse, error) {
	page := req.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, ErrInvalidPage
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = 20
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, ErrInvalidPageSize
	}

	filter := models.ReferralFilter{FromClinicID: &tenant.Clinic.ID}
	if req.Status != nil {
		status := models.ReferralStatus(*req.Status)
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		filter.Status = &status
	}
	if req.ReferralType != nil {
		filter.ReferralType = req.ReferralType
	}

	total, err := f.referralRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LIST_FAILED", "Failed to count referrals", err)
	}

	rows, err := f.referralRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LIST_FAILED", "Failed to list referrals", err)
	}

	referrals := make([]dto.ReferralDTO, 0, len(rows))
	for _, row := range rows {
		referrals = append(referrals, ToReferralDTO(*row))
	}

	return &dto.ListReferralsResponse{
		Message:   "Referrals retrieved",
		Referrals: referrals,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
	}, nil
}

func (f *ReferralFlowImpl) Get(ctx context.Context, tenant *Tenant, referralUUID string) (*dto.ReferralDTO, error) {
	referral, err := f.loadOwned(ctx, tenant, referralUUID)
	if err != nil {
		return nil, err
	}
	out := ToReferralDTO(*referral)
	return &out, nil
}

// Share returns the referral's share token, generating it on first use. The
// storage layer keeps the first written token under concurrent calls.
func (f *ReferralFlowImpl) Share(ctx context.Context, tenant *Tenant, referralUUID string, metadata *ClientMetadata) (*dto.ShareReferralResponse, error) {
	referral, err := f.loadOwned(ctx, tenant, referralUUID)
	if err != nil {
		return nil, err
	}

	if referral.ShareToken != nil && *referral.ShareToken != "" {
		return &dto.ShareReferralResponse{
			Message:    "Referral share token retrieved",
			ShareToken: *referral.ShareToken,
		}, nil
	}

	token, err := f.tokenService.GenerateLinkToken()
	if err != nil {
		return nil, NewBusinessError("SHARE_TOKEN_FAILED", "Failed to generate share token", err)
	}
	winner, err := f.referralRepo.SetShareToken(ctx, referral.ID, token)
	if err != nil {
		return nil, NewBusinessError("SHARE_TOKEN_FAILED", "Failed to store share token", err)
	}

	f.audit(ctx, tenant, referral, models.AuditActionReferralShared,
		fmt.Sprintf("referral %s shared", referral.UUID), metadata)

	return &dto.ShareReferralResponse{
		Message:    "Referral share token created",
		ShareToken: winner,
	}, nil
}

// Export writes the tenant's referrals into a single-sheet xlsx workbook.
func (f *ReferralFlowImpl) Export(ctx context.Context, tenant *Tenant, metadata *ClientMetadata) (string, []byte, error) {
	filter := models.ReferralFilter{FromClinicID: &tenant.Clinic.ID}
	rows, err := f.referralRepo.ByFilter(ctx, filter, "created_at ASC", 0, 0)
	if err != nil {
		return "", nil, NewBusinessError("REFERRAL_EXPORT_FAILED", "Failed to fetch referrals", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := sanitizeSheetName(tenant.Clinic.Name)
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"uuid", "type", "status", "patient_name", "patient_mobile", "patient_email", "reason", "symptoms", "accepted_at", "scheduled_at", "completed_at", "post_op_scheduled_at", "created_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for ri, r := range rows {
		record := []string{
			r.UUID.String(),
			r.ReferralType,
			r.Status.String(),
			r.PatientName,
			strPtr(r.PatientMobile),
			strPtr(r.PatientEmail),
			r.Reason,
			strings.Join(r.Symptoms, "; "),
			timePtr(r.AcceptedAt),
			timePtr(r.ScheduledAt),
			timePtr(r.CompletedAt),
			timePtr(r.PostOpScheduledAt),
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	f.audit(ctx, tenant, nil, models.AuditActionReferralExported,
		fmt.Sprintf("%d referrals exported", len(rows)), metadata)

	filename := fmt.Sprintf("referrals_%s.xlsx", utils.UTCNow().Format("2006-01-02"))
	return filename, buf.Bytes(), nil
}

func (f *ReferralFlowImpl) loadOwned(ctx context.Context, tenant *Tenant, referralUUID string) (*models.Referral, error) {
	referral, err := f.referralRepo.ByUUID(ctx, referralUUID)
	if err != nil {
		return nil, NewBusinessError("REFERRAL_LOOKUP_FAILED", "Failed to lookup referral", err)
	}
	if referral == nil {
		return nil, ErrReferralNotFound
	}
	if referral.FromClinicID != tenant.Clinic.ID && (referral.ToClinicID == nil || *referral.ToClinicID != tenant.Clinic.ID) {
		return nil, ErrReferralAccessDenied
	}
	return referral, nil
}

func (f *ReferralFlowImpl) audit(ctx context.Context, tenant *Tenant, referral *models.Referral, action, description string, metadata *ClientMetadata) {
	ipAddress := "127.0.0.1"
	userAgent := ""
	subject := ""
	if metadata != nil {
		ipAddress = metadata.IPAddress
		userAgent = metadata.UserAgent
		subject = metadata.Additional["subject"]
	}
	if tenant != nil && tenant.Member != nil {
		subject = tenant.Member.Subject
	}

	var referralID *uint
	if referral != nil {
		referralID = &referral.ID
	}

	audit := &models.AuditLog{
		ClinicID:     &tenant.Clinic.ID,
		ReferralID:   referralID,
		ActorSubject: &subject,
		Action:       action,
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

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain: : \\ / ? * [ ] and must be <= 31 chars
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	safe := replacer.Replace(name)
	safe = strings.TrimSpace(safe)
	if len(safe) > 31 {
		safe = safe[:31]
	}
	if safe == "" {
		safe = "Referrals"
	}
	return safe
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
