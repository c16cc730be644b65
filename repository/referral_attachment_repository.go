package repository

import (
	"context"

	"github.com/refermed/refermed/models"
	"gorm.io/gorm"
)

// ReferralAttachmentRepositoryImpl implements ReferralAttachmentRepository
type ReferralAttachmentRepositoryImpl struct {
	*BaseRepository[models.ReferralAttachment, models.ReferralAttachmentFilter]
}

func NewReferralAttachmentRepository(db *gorm.DB) ReferralAttachmentRepository {
	return &ReferralAttachmentRepositoryImpl{BaseRepository: NewBaseRepository[models.ReferralAttachment, models.ReferralAttachmentFilter](db)}
}

func (r *ReferralAttachmentRepositoryImpl) ListByReferral(ctx context.Context, referralID uint) ([]*models.ReferralAttachment, error) {
	filter := models.ReferralAttachmentFilter{ReferralID: &referralID}
	return r.ByFilter(ctx, filter, "id ASC", 0, 0)
}

func (r *ReferralAttachmentRepositoryImpl) applyFilter(db *gorm.DB, f models.ReferralAttachmentFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ReferralID != nil {
		db = db.Where("referral_id = ?", *f.ReferralID)
	}
	if f.IsDemo != nil {
		db = db.Where("is_demo = ?", *f.IsDemo)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *ReferralAttachmentRepositoryImpl) ByFilter(ctx context.Context, filter models.ReferralAttachmentFilter, orderBy string, limit, offset int) ([]*models.ReferralAttachment, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ReferralAttachment{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ReferralAttachment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ReferralAttachmentRepositoryImpl) Count(ctx context.Context, filter models.ReferralAttachmentFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ReferralAttachment{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ReferralAttachmentRepositoryImpl) Exists(ctx context.Context, filter models.ReferralAttachmentFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
