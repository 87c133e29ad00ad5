package apiserver

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatcore/internal/middleware"
	"chatcore/internal/models"
	"chatcore/internal/services"
)

// NotificationHandler handles HTTP requests for the notification feed.
type NotificationHandler struct {
	notifService services.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(ns services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifService: ns}
}

// ListNotificationsHandler handles GET /api/v1/notifications?unread=true
func (h *NotificationHandler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit, offset := paginationParams(r)

	notifications, err := h.notifService.ListNotifications(r.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		log.Printf("Error fetching notifications for user %s: %v", userID, err)
		writeJSONError(w, "获取通知列表失败", http.StatusInternalServerError)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSONResponse(w, http.StatusOK, notifications)
}

func (h *NotificationHandler) withOwnedNotification(w http.ResponseWriter, r *http.Request, op func(id uint, userID string) error, success string) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	notificationID, err := strconv.ParseUint(mux.Vars(r)["notificationID"], 10, 32)
	if err != nil {
		writeJSONError(w, "无效的通知ID格式", http.StatusBadRequest)
		return
	}

	if err := op(uint(notificationID), userID); err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
		} else if errors.Is(err, services.ErrNotNotificationOwner) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
		} else {
			log.Printf("Error handling notification %d for user %s: %v", notificationID, userID, err)
			writeJSONError(w, "处理通知失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": success})
}

// MarkReadHandler handles POST /api/v1/notifications/{notificationID}/read
func (h *NotificationHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	h.withOwnedNotification(w, r, func(id uint, userID string) error {
		return h.notifService.MarkNotificationRead(r.Context(), id, userID)
	}, "通知已标记为已读")
}

// DeleteNotificationHandler handles DELETE /api/v1/notifications/{notificationID}
func (h *NotificationHandler) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	h.withOwnedNotification(w, r, func(id uint, userID string) error {
		return h.notifService.DeleteNotification(r.Context(), id, userID)
	}, "通知已删除")
}

// MarkAllReadHandler handles POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	if err := h.notifService.MarkAllNotificationsRead(r.Context(), userID); err != nil {
		log.Printf("Error marking all notifications read for user %s: %v", userID, err)
		writeJSONError(w, "标记通知失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "全部通知已标记为已读"})
}

// ClearNotificationsHandler handles DELETE /api/v1/notifications
func (h *NotificationHandler) ClearNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	if err := h.notifService.ClearNotifications(r.Context(), userID); err != nil {
		log.Printf("Error clearing notifications for user %s: %v", userID, err)
		writeJSONError(w, "清空通知失败", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
