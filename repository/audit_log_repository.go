package repository

import (
	"context"

	"github.com/refermed/refermed/models"
	"gorm.io/gorm"
)

// AuditLogRepositoryImpl implements AuditLogRepository
type AuditLogRepositoryImpl struct {
	*BaseRepository[models.AuditLog, models.AuditLogFilter]
}

func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &AuditLogRepositoryImpl{BaseRepository: NewBaseRepository[models.AuditLog, models.AuditLogFilter](db)}
}

func (r *AuditLogRepositoryImpl) ListByClinic(ctx context.Context, clinicID uint, limit, offset int) ([]*models.AuditLog, error) {
	filter := models.AuditLogFilter{ClinicID: &clinicID}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

func (r *AuditLogRepositoryImpl) ListFailedActions(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	success := false
	filter := models.AuditLogFilter{Success: &success}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

func (r *AuditLogRepositoryImpl) applyFilter(db *gorm.DB, f models.AuditLogFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ClinicID != nil {
		db = db.Where("clinic_id = ?", *f.ClinicID)
	}
	if f.ActorSubject != nil {
		db = db.Where("actor_subject = ?", *f.ActorSubject)
	}
	if f.Action != nil {
		db = db.Where("action = ?", *f.Action)
	}
	if f.Success != nil {
		db = db.Where("success = ?", *f.Success)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *AuditLogRepositoryImpl) ByFilter(ctx context.Context, filter models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AuditLog{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.AuditLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AuditLogRepositoryImpl) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AuditLog{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AuditLogRepositoryImpl) Exists(ctx context.Context, filter models.AuditLogFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
