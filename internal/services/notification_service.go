package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chatcore/internal/models"
	"chatcore/internal/storage"
)

var (
	ErrNotificationNotFound = errors.New("通知不存在")
	ErrNotNotificationOwner = errors.New("您不是此通知的所有者")
)

// NotificationService defines the interface for reading and resolving a user's
// notifications. Creation always happens inside the mutation that derives the
// notification, never here.
type NotificationService interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id uint, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, id uint, userID string) error
	ClearNotifications(ctx context.Context, userID string) error
}

type notificationService struct {
	notifRepo storage.NotificationRepository
}

// NewNotificationService creates a new NotificationService instance.
func NewNotificationService(notifRepo storage.NotificationRepository) NotificationService {
	return &notificationService{notifRepo: notifRepo}
}

func (s *notificationService) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	notifications, err := s.notifRepo.ListForUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	return notifications, nil
}

// requireOwned loads the notification and checks it belongs to userID.
func (s *notificationService) requireOwned(ctx context.Context, id uint, userID string) (*models.Notification, error) {
	notif, err := s.notifRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to load notification %d: %w", id, err)
	}
	if notif.UserID != userID {
		return nil, ErrNotNotificationOwner
	}
	return notif, nil
}

func (s *notificationService) MarkNotificationRead(ctx context.Context, id uint, userID string) error {
	if _, err := s.requireOwned(ctx, id, userID); err != nil {
		return err
	}
	return s.notifRepo.MarkRead(ctx, id)
}

func (s *notificationService) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	return s.notifRepo.MarkAllRead(ctx, userID)
}

func (s *notificationService) DeleteNotification(ctx context.Context, id uint, userID string) error {
	if _, err := s.requireOwned(ctx, id, userID); err != nil {
		return err
	}
	return s.notifRepo.Delete(ctx, id)
}

func (s *notificationService) ClearNotifications(ctx context.Context, userID string) error {
	return s.notifRepo.DeleteAllForUser(ctx, userID)
}
