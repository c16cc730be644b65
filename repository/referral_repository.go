package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
	"gorm.io/gorm"
)

// ReferralRepositoryImpl implements ReferralRepository
type ReferralRepositoryImpl struct {
	*BaseRepository[models.Referral, models.ReferralFilter]
}

func NewReferralRepository(db *gorm.DB) ReferralRepository {
	return &ReferralRepositoryImpl{BaseRepository: NewBaseRepository[models.Referral, models.ReferralFilter](db)}
}

func (r *ReferralRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Referral, error) {
	db := r.getDB(ctx)
	var row models.Referral
	if err := db.Where("uuid = ?", uuid).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ReferralRepositoryImpl) ByStatusToken(ctx context.Context, token string) (*models.Referral, error) {
	filter := models.ReferralFilter{StatusToken: &token}
	rows, err := r.ByFilter(ctx, filter, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *ReferralRepositoryImpl) ByShareToken(ctx context.Context, token string) (*models.Referral, error) {
	filter := models.ReferralFilter{ShareToken: &token}
	rows, err := r.ByFilter(ctx, filter, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// AdvanceStatus moves the referral forward with a single conditional UPDATE.
// The WHERE clause restricts the write to rows whose current status sits
// strictly below the target in the canonical order, so a concurrent manual
// transition or a late demo timer can never push a referral backward. Stage
// stamps go through COALESCE to keep them write-once.
func (r *ReferralRepositoryImpl) AdvanceStatus(ctx context.Context, id uint, target models.ReferralStatus, stamps StageStamps) (bool, error) {
	targetIdx, ok := target.OrderIndex()
	if !ok {
		return false, fmt.Errorf("status %q is not in the canonical order", target)
	}

	eligible := make([]models.ReferralStatus, 0, targetIdx+1)
	eligible = append(eligible, models.ReferralStatusDraft)
	for _, st := range models.StatusOrder[:targetIdx] {
		eligible = append(eligible, st)
	}

	db := r.getDB(ctx)
	res := db.Model(&models.Referral{}).
		Where("id = ? AND status IN ?", id, eligible).
		Updates(map[string]any{
			"status":               target,
			"accepted_at":          gorm.Expr("COALESCE(accepted_at, ?)", stamps.AcceptedAt),
			"scheduled_at":         gorm.Expr("COALESCE(scheduled_at, ?)", stamps.ScheduledAt),
			"completed_at":         gorm.Expr("COALESCE(completed_at, ?)", stamps.CompletedAt),
			"post_op_scheduled_at": gorm.Expr("COALESCE(post_op_scheduled_at, ?)", stamps.PostOpScheduledAt),
			"updated_at":           utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance referral %d to %s: %w", id, target, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ReferralRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.ReferralStatus) error {
	db := r.getDB(ctx)
	res := db.Model(&models.Referral{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return fmt.Errorf("failed to update referral %d status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetShareToken writes the token only where none exists; under concurrent
// generation the first writer wins and everyone reads back the stored value.
func (r *ReferralRepositoryImpl) SetShareToken(ctx context.Context, id uint, token string) (string, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.Referral{}).
		Where("id = ? AND share_token IS NULL", id).
		Updates(map[string]any{"share_token": token, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return "", fmt.Errorf("failed to set share token for referral %d: %w", id, res.Error)
	}

	row, err := r.ByID(ctx, id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", gorm.ErrRecordNotFound
	}
	if row.ShareToken == nil {
		return "", fmt.Errorf("share token missing after write for referral %d", id)
	}
	return *row.ShareToken, nil
}

func (r *ReferralRepositoryImpl) DetachFromLink(ctx context.Context, linkID uint) error {
	db := r.getDB(ctx)
	err := db.Model(&models.Referral{}).
		Where("referral_link_id = ?", linkID).
		Updates(map[string]any{"referral_link_id": nil, "updated_at": utils.UTCNow()}).Error
	if err != nil {
		return fmt.Errorf("failed to detach referrals from link %d: %w", linkID, err)
	}
	return nil
}

func (r *ReferralRepositoryImpl) applyFilter(db *gorm.DB, f models.ReferralFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.ReferralType != nil {
		db = db.Where("referral_type = ?", *f.ReferralType)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.FromClinicID != nil {
		db = db.Where("from_clinic_id = ?", *f.FromClinicID)
	}
	if f.ToClinicID != nil {
		db = db.Where("to_clinic_id = ?", *f.ToClinicID)
	}
	if f.ReferralLinkID != nil {
		db = db.Where("referral_link_id = ?", *f.ReferralLinkID)
	}
	if f.StatusToken != nil {
		db = db.Where("status_token = ?", *f.StatusToken)
	}
	if f.ShareToken != nil {
		db = db.Where("share_token = ?", *f.ShareToken)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *ReferralRepositoryImpl) ByFilter(ctx context.Context, filter models.ReferralFilter, orderBy string, limit, offset int) ([]*models.Referral, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Referral{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Referral
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ReferralRepositoryImpl) Count(ctx context.Context, filter models.ReferralFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Referral{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ReferralRepositoryImpl) Exists(ctx context.Context, filter models.ReferralFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
