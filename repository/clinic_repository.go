package repository

import (
	"context"
	"errors"

	"github.com/refermed/refermed/models"
	"gorm.io/gorm"
)

// ClinicRepositoryImpl implements ClinicRepository
type ClinicRepositoryImpl struct {
	*BaseRepository[models.Clinic, models.ClinicFilter]
}

func NewClinicRepository(db *gorm.DB) ClinicRepository {
	return &ClinicRepositoryImpl{BaseRepository: NewBaseRepository[models.Clinic, models.ClinicFilter](db)}
}

func (r *ClinicRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Clinic, error) {
	db := r.getDB(ctx)
	var row models.Clinic
	if err := db.Where("uuid = ?", uuid).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ClinicRepositoryImpl) applyFilter(db *gorm.DB, f models.ClinicFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.ClinicType != nil {
		db = db.Where("clinic_type = ?", *f.ClinicType)
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

func (r *ClinicRepositoryImpl) ByFilter(ctx context.Context, filter models.ClinicFilter, orderBy string, limit, offset int) ([]*models.Clinic, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Clinic{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Clinic
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ClinicRepositoryImpl) Count(ctx context.Context, filter models.ClinicFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Clinic{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ClinicRepositoryImpl) Exists(ctx context.Context, filter models.ClinicFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// ClinicMemberRepositoryImpl implements ClinicMemberRepository
type ClinicMemberRepositoryImpl struct {
	*BaseRepository[models.ClinicMember, models.ClinicMemberFilter]
}

func NewClinicMemberRepository(db *gorm.DB) ClinicMemberRepository {
	return &ClinicMemberRepositoryImpl{BaseRepository: NewBaseRepository[models.ClinicMember, models.ClinicMemberFilter](db)}
}

func (r *ClinicMemberRepositoryImpl) BySubject(ctx context.Context, subject string) (*models.ClinicMember, error) {
	db := r.getDB(ctx)
	var row models.ClinicMember
	if err := db.Where("subject = ?", subject).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ClinicMemberRepositoryImpl) applyFilter(db *gorm.DB, f models.ClinicMemberFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ClinicID != nil {
		db = db.Where("clinic_id = ?", *f.ClinicID)
	}
	if f.Subject != nil {
		db = db.Where("subject = ?", *f.Subject)
	}
	if f.Role != nil {
		db = db.Where("role = ?", *f.Role)
	}
	return db
}

func (r *ClinicMemberRepositoryImpl) ByFilter(ctx context.Context, filter models.ClinicMemberFilter, orderBy string, limit, offset int) ([]*models.ClinicMember, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ClinicMember{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ClinicMember
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ClinicMemberRepositoryImpl) Count(ctx context.Context, filter models.ClinicMemberFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ClinicMember{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ClinicMemberRepositoryImpl) Exists(ctx context.Context, filter models.ClinicMemberFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
