package repository

import (
	"context"
	"fmt"

	"github.com/refermed/refermed/models"
	"gorm.io/gorm"
)

// NotificationRepositoryImpl implements NotificationRepository
type NotificationRepositoryImpl struct {
	*BaseRepository[models.Notification, models.NotificationFilter]
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &NotificationRepositoryImpl{BaseRepository: NewBaseRepository[models.Notification, models.NotificationFilter](db)}
}

func (r *NotificationRepositoryImpl) ListByClinic(ctx context.Context, clinicID uint, limit, offset int) ([]*models.Notification, error) {
	filter := models.NotificationFilter{ClinicID: &clinicID}
	return r.ByFilter(ctx, filter, "created_at DESC", limit, offset)
}

func (r *NotificationRepositoryImpl) MarkRead(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	res := db.Model(&models.Notification{}).
		Where("id = ?", id).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %d read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *NotificationRepositoryImpl) applyFilter(db *gorm.DB, f models.NotificationFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.ClinicID != nil {
		db = db.Where("clinic_id = ?", *f.ClinicID)
	}
	if f.ReferralID != nil {
		db = db.Where("referral_id = ?", *f.ReferralID)
	}
	if f.Type != nil {
		db = db.Where("type = ?", *f.Type)
	}
	if f.IsRead != nil {
		db = db.Where("is_read = ?", *f.IsRead)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *NotificationRepositoryImpl) ByFilter(ctx context.Context, filter models.NotificationFilter, orderBy string, limit, offset int) ([]*models.Notification, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Notification{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *NotificationRepositoryImpl) Count(ctx context.Context, filter models.NotificationFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Notification{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *NotificationRepositoryImpl) Exists(ctx context.Context, filter models.NotificationFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
