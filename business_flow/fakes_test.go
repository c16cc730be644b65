package businessflow

import (
	"context"
	"fmt"

	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
)

// In-memory repository fakes mirroring the storage-layer semantics the flows
// rely on, most importantly the conditional status advance.

type fakeReferralRepo struct {
	nextID uint
	rows   map[uint]*models.Referral
}

func newFakeReferralRepo() *fakeReferralRepo {
	return &fakeReferralRepo{rows: make(map[uint]*models.Referral)}
}

func (r *fakeReferralRepo) ByID(ctx context.Context, id uint) (*models.Referral, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return row, nil
}

func (r *fakeReferralRepo) matches(row *models.Referral, f models.ReferralFilter) bool {
	if f.ID != nil && row.ID != *f.ID {
		return false
	}
	if f.UUID != nil && row.UUID != *f.UUID {
		return false
	}
	if f.Status != nil && row.Status != *f.Status {
		return false
	}
	if f.ReferralType != nil && row.ReferralType != *f.ReferralType {
		return false
	}
	if f.FromClinicID != nil && row.FromClinicID != *f.FromClinicID {
		return false
	}
	if f.ToClinicID != nil && (row.ToClinicID == nil || *row.ToClinicID != *f.ToClinicID) {
		return false
	}
	if f.ReferralLinkID != nil && (row.ReferralLinkID == nil || *row.ReferralLinkID != *f.ReferralLinkID) {
		return false
	}
	if f.StatusToken != nil && row.StatusToken != *f.StatusToken {
		return false
	}
	if f.ShareToken != nil && (row.ShareToken == nil || *row.ShareToken != *f.ShareToken) {
		return false
	}
	return true
}

func (r *fakeReferralRepo) ByFilter(ctx context.Context, filter models.ReferralFilter, orderBy string, limit, offset int) ([]*models.Referral, error) {
	var out []*models.Referral
	for _, row := range r.rows {
		if r.matches(row, filter) {
			out = append(out, row)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeReferralRepo) Save(ctx context.Context, entity *models.Referral) error {
	if entity.ID == 0 {
		r.nextID++
		entity.ID = r.nextID
	}
	r.rows[entity.ID] = entity
	return nil
}

func (r *fakeReferralRepo) SaveBatch(ctx context.Context, entities []*models.Referral) error {
	for _, e := range entities {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeReferralRepo) Count(ctx context.Context, filter models.ReferralFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeReferralRepo) Exists(ctx context.Context, filter models.ReferralFilter) (bool, error) {
	c, _ := r.Count(ctx, filter)
	return c > 0, nil
}

func (r *fakeReferralRepo) ByUUID(ctx context.Context, id string) (*models.Referral, error) {
	for _, row := range r.rows {
		if row.UUID.String() == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeReferralRepo) ByStatusToken(ctx context.Context, token string) (*models.Referral, error) {
	for _, row := range r.rows {
		if row.StatusToken == token {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeReferralRepo) ByShareToken(ctx context.Context, token string) (*models.Referral, error) {
	for _, row := range r.rows {
		if row.ShareToken != nil && *row.ShareToken == token {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeReferralRepo) AdvanceStatus(ctx context.Context, id uint, target models.ReferralStatus, stamps repository.StageStamps) (bool, error) {
	targetIdx, ok := target.OrderIndex()
	if !ok {
		return false, fmt.Errorf("status %q is not in the canonical order", target)
	}
	row, exists := r.rows[id]
	if !exists {
		return false, nil
	}

	eligible := row.Status == models.ReferralStatusDraft
	if currentIdx, canonical := row.Status.OrderIndex(); canonical && currentIdx < targetIdx {
		eligible = true
	}
	if !eligible {
		return false, nil
	}

	row.Status = target
	if row.AcceptedAt == nil {
		row.AcceptedAt = stamps.AcceptedAt
	}
	if row.ScheduledAt == nil {
		row.ScheduledAt = stamps.ScheduledAt
	}
	if row.CompletedAt == nil {
		row.CompletedAt = stamps.CompletedAt
	}
	if row.PostOpScheduledAt == nil {
		row.PostOpScheduledAt = stamps.PostOpScheduledAt
	}
	return true, nil
}

func (r *fakeReferralRepo) UpdateStatus(ctx context.Context, id uint, status models.ReferralStatus) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("referral %d not found", id)
	}
	row.Status = status
	return nil
}

func (r *fakeReferralRepo) SetShareToken(ctx context.Context, id uint, token string) (string, error) {
	row, ok := r.rows[id]
	if !ok {
		return "", fmt.Errorf("referral %d not found", id)
	}
	if row.ShareToken == nil {
		row.ShareToken = &token
	}
	return *row.ShareToken, nil
}

func (r *fakeReferralRepo) DetachFromLink(ctx context.Context, linkID uint) error {
	for _, row := range r.rows {
		if row.ReferralLinkID != nil && *row.ReferralLinkID == linkID {
			row.ReferralLinkID = nil
		}
	}
	return nil
}

type fakeLinkRepo struct {
	nextID uint
	rows   map[uint]*models.ReferralLink
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{rows: make(map[uint]*models.ReferralLink)}
}

func (r *fakeLinkRepo) ByID(ctx context.Context, id uint) (*models.ReferralLink, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return row, nil
}

func (r *fakeLinkRepo) ByFilter(ctx context.Context, filter models.ReferralLinkFilter, orderBy string, limit, offset int) ([]*models.ReferralLink, error) {
	var out []*models.ReferralLink
	for _, row := range r.rows {
		if filter.ClinicID != nil && row.ClinicID != *filter.ClinicID {
			continue
		}
		if filter.Token != nil && row.Token != *filter.Token {
			continue
		}
		if filter.IsActive != nil && (row.IsActive == nil || *row.IsActive != *filter.IsActive) {
			continue
		}
		out = append(out, row)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeLinkRepo) Save(ctx context.Context, entity *models.ReferralLink) error {
	if entity.ID == 0 {
		r.nextID++
		entity.ID = r.nextID
	}
	r.rows[entity.ID] = entity
	return nil
}

func (r *fakeLinkRepo) SaveBatch(ctx context.Context, entities []*models.ReferralLink) error {
	for _, e := range entities {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeLinkRepo) Count(ctx context.Context, filter models.ReferralLinkFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeLinkRepo) Exists(ctx context.Context, filter models.ReferralLinkFilter) (bool, error) {
	c, _ := r.Count(ctx, filter)
	return c > 0, nil
}

func (r *fakeLinkRepo) ByUUID(ctx context.Context, id string) (*models.ReferralLink, error) {
	for _, row := range r.rows {
		if row.UUID.String() == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeLinkRepo) ByToken(ctx context.Context, token string) (*models.ReferralLink, error) {
	for _, row := range r.rows {
		if row.Token == token {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeLinkRepo) UpdateAccessCodeHash(ctx context.Context, id uint, hash string) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("link %d not found", id)
	}
	row.AccessCodeHash = hash
	return nil
}

func (r *fakeLinkRepo) SetActive(ctx context.Context, id uint, active bool) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("link %d not found", id)
	}
	row.IsActive = &active
	return nil
}

func (r *fakeLinkRepo) UpdateLabel(ctx context.Context, id uint, label string) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("link %d not found", id)
	}
	row.Label = label
	return nil
}

func (r *fakeLinkRepo) Delete(ctx context.Context, id uint) error {
	delete(r.rows, id)
	return nil
}

type fakeClinicRepo struct {
	rows map[uint]*models.Clinic
}

func newFakeClinicRepo(clinics ...*models.Clinic) *fakeClinicRepo {
	r := &fakeClinicRepo{rows: make(map[uint]*models.Clinic)}
	for _, c := range clinics {
		r.rows[c.ID] = c
	}
	return r
}

func (r *fakeClinicRepo) ByID(ctx context.Context, id uint) (*models.Clinic, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return row, nil
}

func (r *fakeClinicRepo) ByFilter(ctx context.Context, filter models.ClinicFilter, orderBy string, limit, offset int) ([]*models.Clinic, error) {
	var out []*models.Clinic
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *fakeClinicRepo) Save(ctx context.Context, entity *models.Clinic) error {
	r.rows[entity.ID] = entity
	return nil
}

func (r *fakeClinicRepo) SaveBatch(ctx context.Context, entities []*models.Clinic) error {
	for _, e := range entities {
		r.rows[e.ID] = e
	}
	return nil
}

func (r *fakeClinicRepo) Count(ctx context.Context, filter models.ClinicFilter) (int64, error) {
	return int64(len(r.rows)), nil
}

func (r *fakeClinicRepo) Exists(ctx context.Context, filter models.ClinicFilter) (bool, error) {
	return len(r.rows) > 0, nil
}

func (r *fakeClinicRepo) ByUUID(ctx context.Context, id string) (*models.Clinic, error) {
	for _, row := range r.rows {
		if row.UUID.String() == id {
			return row, nil
		}
	}
	return nil, nil
}

type fakeMemberRepo struct {
	rows map[string]*models.ClinicMember
}

func newFakeMemberRepo(members ...*models.ClinicMember) *fakeMemberRepo {
	r := &fakeMemberRepo{rows: make(map[string]*models.ClinicMember)}
	for _, m := range members {
		r.rows[m.Subject] = m
	}
	return r
}

func (r *fakeMemberRepo) ByID(ctx context.Context, id uint) (*models.ClinicMember, error) {
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeMemberRepo) ByFilter(ctx context.Context, filter models.ClinicMemberFilter, orderBy string, limit, offset int) ([]*models.ClinicMember, error) {
	var out []*models.ClinicMember
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *fakeMemberRepo) Save(ctx context.Context, entity *models.ClinicMember) error {
	r.rows[entity.Subject] = entity
	return nil
}

func (r *fakeMemberRepo) SaveBatch(ctx context.Context, entities []*models.ClinicMember) error {
	for _, e := range entities {
		r.rows[e.Subject] = e
	}
	return nil
}

func (r *fakeMemberRepo) Count(ctx context.Context, filter models.ClinicMemberFilter) (int64, error) {
	return int64(len(r.rows)), nil
}

func (r *fakeMemberRepo) Exists(ctx context.Context, filter models.ClinicMemberFilter) (bool, error) {
	return len(r.rows) > 0, nil
}

func (r *fakeMemberRepo) BySubject(ctx context.Context, subject string) (*models.ClinicMember, error) {
	row, ok := r.rows[subject]
	if !ok {
		return nil, nil
	}
	return row, nil
}

type fakeAttachmentRepo struct {
	nextID uint
	rows   map[uint]*models.ReferralAttachment
}

func newFakeAttachmentRepo() *fakeAttachmentRepo {
	return &fakeAttachmentRepo{rows: make(map[uint]*models.ReferralAttachment)}
}

func (r *fakeAttachmentRepo) ByID(ctx context.Context, id uint) (*models.ReferralAttachment, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return row, nil
}

func (r *fakeAttachmentRepo) ByFilter(ctx context.Context, filter models.ReferralAttachmentFilter, orderBy string, limit, offset int) ([]*models.ReferralAttachment, error) {
	var out []*models.ReferralAttachment
	for _, row := range r.rows {
		if filter.ReferralID != nil && row.ReferralID != *filter.ReferralID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *fakeAttachmentRepo) Save(ctx context.Context, entity *models.ReferralAttachment) error {
	if entity.ID == 0 {
		r.nextID++
		entity.ID = r.nextID
	}
	r.rows[entity.ID] = entity
	return nil
}

func (r *fakeAttachmentRepo) SaveBatch(ctx context.Context, entities []*models.ReferralAttachment) error {
	for _, e := range entities {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeAttachmentRepo) Count(ctx context.Context, filter models.ReferralAttachmentFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeAttachmentRepo) Exists(ctx context.Context, filter models.ReferralAttachmentFilter) (bool, error) {
	c, _ := r.Count(ctx, filter)
	return c > 0, nil
}

func (r *fakeAttachmentRepo) ListByReferral(ctx context.Context, referralID uint) ([]*models.ReferralAttachment, error) {
	return r.ByFilter(ctx, models.ReferralAttachmentFilter{ReferralID: &referralID}, "", 0, 0)
}

type fakeAuditRepo struct {
	nextID uint
	rows   []*models.AuditLog
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (r *fakeAuditRepo) ByID(ctx context.Context, id uint) (*models.AuditLog, error) {
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeAuditRepo) ByFilter(ctx context.Context, filter models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	for _, row := range r.rows {
		if filter.ClinicID != nil && (row.ClinicID == nil || *row.ClinicID != *filter.ClinicID) {
			continue
		}
		if filter.Action != nil && row.Action != *filter.Action {
			continue
		}
		if filter.Success != nil && (row.Success == nil || *row.Success != *filter.Success) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *fakeAuditRepo) Save(ctx context.Context, entity *models.AuditLog) error {
	r.nextID++
	entity.ID = r.nextID
	r.rows = append(r.rows, entity)
	return nil
}

func (r *fakeAuditRepo) SaveBatch(ctx context.Context, entities []*models.AuditLog) error {
	for _, e := range entities {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeAuditRepo) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeAuditRepo) Exists(ctx context.Context, filter models.AuditLogFilter) (bool, error) {
	c, _ := r.Count(ctx, filter)
	return c > 0, nil
}

func (r *fakeAuditRepo) ListByClinic(ctx context.Context, clinicID uint, limit, offset int) ([]*models.AuditLog, error) {
	return r.ByFilter(ctx, models.AuditLogFilter{ClinicID: &clinicID}, "", limit, offset)
}

func (r *fakeAuditRepo) ListFailedActions(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	success := false
	return r.ByFilter(ctx, models.AuditLogFilter{Success: &success}, "", limit, offset)
}

func (r *fakeAuditRepo) actions() []string {
	out := make([]string, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row.Action)
	}
	return out
}

type fakeNotificationService struct {
	smsMessages   []string
	emailMessages []string
	notifications []*models.Notification
}

func (s *fakeNotificationService) SendSMS(ctx context.Context, mobile, message string) error {
	s.smsMessages = append(s.smsMessages, message)
	return nil
}

func (s *fakeNotificationService) SendEmail(ctx context.Context, email, subject, message string) error {
	s.emailMessages = append(s.emailMessages, message)
	return nil
}

func (s *fakeNotificationService) Notify(ctx context.Context, notification *models.Notification) error {
	s.notifications = append(s.notifications, notification)
	return nil
}
