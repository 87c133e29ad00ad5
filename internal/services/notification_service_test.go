package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/models"
	"chatcore/internal/storage"
)

func newNotificationServiceForTest(t *testing.T) (NotificationService, storage.NotificationRepository) {
	t.Helper()
	db := newTestDB(t)
	notifRepo := storage.NewGormNotificationRepository(db)
	return NewNotificationService(notifRepo), notifRepo
}

func seedNotification(t *testing.T, repo storage.NotificationRepository, userID string, nType models.NotificationType) *models.Notification {
	t.Helper()
	notif := &models.Notification{
		UserID:  userID,
		Type:    nType,
		Content: "test notification",
	}
	require.NoError(t, repo.Create(context.Background(), notif))
	return notif
}

func TestListNotifications(t *testing.T) {
	svc, repo := newNotificationServiceForTest(t)
	ctx := context.Background()

	seedNotification(t, repo, "u1", models.NotificationGeneral)
	read := seedNotification(t, repo, "u1", models.NotificationMention)
	seedNotification(t, repo, "u2", models.NotificationGeneral)

	require.NoError(t, svc.MarkNotificationRead(ctx, read.ID, "u1"))

	all, err := svc.ListNotifications(ctx, "u1", false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	unread, err := svc.ListNotifications(ctx, "u1", true, 10, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, models.NotificationGeneral, unread[0].Type)
}

func TestNotificationOwnership(t *testing.T) {
	svc, repo := newNotificationServiceForTest(t)
	ctx := context.Background()

	notif := seedNotification(t, repo, "u1", models.NotificationGeneral)

	// 只有所有者能标记或删除
	assert.ErrorIs(t, svc.MarkNotificationRead(ctx, notif.ID, "u2"), ErrNotNotificationOwner)
	assert.ErrorIs(t, svc.DeleteNotification(ctx, notif.ID, "u2"), ErrNotNotificationOwner)
	assert.ErrorIs(t, svc.MarkNotificationRead(ctx, 9999, "u1"), ErrNotificationNotFound)

	require.NoError(t, svc.DeleteNotification(ctx, notif.ID, "u1"))
	assert.ErrorIs(t, svc.DeleteNotification(ctx, notif.ID, "u1"), ErrNotificationNotFound)
}

func TestMarkAllAndClear(t *testing.T) {
	svc, repo := newNotificationServiceForTest(t)
	ctx := context.Background()

	seedNotification(t, repo, "u1", models.NotificationGeneral)
	seedNotification(t, repo, "u1", models.NotificationMention)
	other := seedNotification(t, repo, "u2", models.NotificationGeneral)

	require.NoError(t, svc.MarkAllNotificationsRead(ctx, "u1"))
	unread, err := svc.ListNotifications(ctx, "u1", true, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)

	require.NoError(t, svc.ClearNotifications(ctx, "u1"))
	all, err := svc.ListNotifications(ctx, "u1", false, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	// 别人的通知不受影响
	stillThere, err := repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, stillThere.IsRead)
}
