package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
	"gorm.io/gorm"
)

// ReferralLinkRepositoryImpl implements ReferralLinkRepository
type ReferralLinkRepositoryImpl struct {
	*BaseRepository[models.ReferralLink, models.ReferralLinkFilter]
}

func NewReferralLinkRepository(db *gorm.DB) ReferralLinkRepository {
	return &ReferralLinkRepositoryImpl{BaseRepository: NewBaseRepository[models.ReferralLink, models.ReferralLinkFilter](db)}
}

func (r *ReferralLinkRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.ReferralLink, error) {
	db := r.getDB(ctx)
	var row models.ReferralLink
	if err := db.Where("uuid = ?", uuid).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ReferralLinkRepositoryImpl) ByToken(ctx context.Context, token string) (*models.ReferralLink, error) {
	filter := models.ReferralLinkFilter{Token: &token}
	rows, err := r.ByFilter(ctx, filter, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *ReferralLinkRepositoryImpl) UpdateAccessCodeHash(ctx context.Context, id uint, hash string) error {
	return r.updateColumns(ctx, id, map[string]any{"access_code_hash": hash})
}

func (r *ReferralLinkRepositoryImpl) SetActive(ctx context.Context, id uint, active bool) error {
	return r.updateColumns(ctx, id, map[string]any{"is_active": active})
}

func (r *ReferralLinkRepositoryImpl) UpdateLabel(ctx context.Context, id uint, label string) error {
	return r.updateColumns(ctx, id, map[string]any{"label": label})
}

func (r *ReferralLinkRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	res := db.Delete(&models.ReferralLink{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete referral link %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ReferralLinkRepositoryImpl) updateColumns(ctx context.Context, id uint, cols map[string]any) error {
	cols["updated_at"] = utils.UTCNow()
	db := r.getDB(ctx)
	res := db.Model(&models.ReferralLink{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("failed to update referral link %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ReferralLinkRepositoryImpl) applyFilter(db *gorm.DB, f models.ReferralLinkFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.ClinicID != nil {
		db = db.Where("clinic_id = ?", *f.ClinicID)
	}
	if f.Token != nil {
		db = db.Where("token = ?", *f.Token)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *ReferralLinkRepositoryImpl) ByFilter(ctx context.Context, filter models.ReferralLinkFilter, orderBy string, limit, offset int) ([]*models.ReferralLink, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ReferralLink{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ReferralLink
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ReferralLinkRepositoryImpl) Count(ctx context.Context, filter models.ReferralLinkFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ReferralLink{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ReferralLinkRepositoryImpl) Exists(ctx context.Context, filter models.ReferralLinkFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
