package businessflow

import (
	"context"

	"github.com/refermed/refermed/app/dto"
	"github.com/refermed/refermed/repository"
)

// NotificationFlow serves the in-app notification feed of a clinic.
type NotificationFlow interface {
	List(ctx context.Context, tenant *Tenant, limit, offset int) (*dto.ListNotificationsResponse, error)
	MarkRead(ctx context.Context, tenant *Tenant, notificationID uint) error
}

type NotificationFlowImpl struct {
	notificationRepo repository.NotificationRepository
}

func NewNotificationFlow(notificationRepo repository.NotificationRepository) NotificationFlow {
	return &NotificationFlowImpl{notificationRepo: notificationRepo}
}

func (f *NotificationFlowImpl) List(ctx context.Context, tenant *Tenant, limit, offset int) (*dto.ListNotificationsResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := f.notificationRepo.ListByClinic(ctx, tenant.Clinic.ID, limit, offset)
	if err != nil {
		return nil, NewBusinessError("NOTIFICATION_LIST_FAILED", "Failed to list notifications", err)
	}

	notifications := make([]dto.NotificationDTO, 0, len(rows))
	for _, row := range rows {
		notifications = append(notifications, ToNotificationDTO(*row))
	}

	return &dto.ListNotificationsResponse{
		Message:       "Notifications retrieved",
		Notifications: notifications,
	}, nil
}

func (f *NotificationFlowImpl) MarkRead(ctx context.Context, tenant *Tenant, notificationID uint) error {
	row, err := f.notificationRepo.ByID(ctx, notificationID)
	if err != nil {
		return NewBusinessError("NOTIFICATION_LOOKUP_FAILED", "Failed to lookup notification", err)
	}
	if row == nil || row.ClinicID != tenant.Clinic.ID {
		return ErrReferralAccessDenied
	}
	return f.notificationRepo.MarkRead(ctx, notificationID)
}
