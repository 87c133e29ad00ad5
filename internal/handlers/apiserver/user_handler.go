package apiserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"chatcore/internal/middleware"
	"chatcore/internal/models"
	"chatcore/internal/services"
)

// UserHandler handles HTTP requests for profiles and presence.
type UserHandler struct {
	userService services.UserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(us services.UserService) *UserHandler {
	return &UserHandler{userService: us}
}

// SyncProfileHandler handles POST /api/v1/users/sync
// It upserts the caller's profile row from the identity claims in the token.
func (h *UserHandler) SyncProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户信息", http.StatusUnauthorized)
		return
	}

	user, err := h.userService.EnsureProfileExists(r.Context(), userID, claims.Email, claims.DisplayName)
	if err != nil {
		if errors.Is(err, services.ErrInvalidProfile) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error syncing profile for user %s: %v", userID, err)
		writeJSONError(w, "同步用户资料失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// GetMyProfileHandler handles GET /api/v1/users/me
func (h *UserHandler) GetMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	h.writeProfile(w, r, userID)
}

// GetUserProfileHandler handles GET /api/v1/users/{userID}
func (h *UserHandler) GetUserProfileHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	h.writeProfile(w, r, mux.Vars(r)["userID"])
}

func (h *UserHandler) writeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error fetching profile for user %s: %v", userID, err)
		writeJSONError(w, "获取用户资料失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// UpdateProfilePayload defines the JSON body for profile updates.
type UpdateProfilePayload struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// UpdateMyProfileHandler handles PUT /api/v1/users/me
func (h *UserHandler) UpdateMyProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload UpdateProfilePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	user, err := h.userService.UpdateProfile(r.Context(), userID, payload.DisplayName, payload.AvatarURL)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error updating profile for user %s: %v", userID, err)
		writeJSONError(w, "更新用户资料失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

// SearchUsersHandler handles GET /api/v1/users/search?q=...
func (h *UserHandler) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSONError(w, "缺少查询参数 q", http.StatusBadRequest)
		return
	}

	users, err := h.userService.SearchUsers(r.Context(), query, userID)
	if err != nil {
		log.Printf("Error searching users for %q: %v", query, err)
		writeJSONError(w, "搜索用户失败", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSONResponse(w, http.StatusOK, users)
}

// SetStatusPayload defines the JSON body for presence updates.
type SetStatusPayload struct {
	Status models.UserStatus `json:"status"`
}

// SetStatusHandler handles PUT /api/v1/users/me/status
func (h *UserHandler) SetStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload SetStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.userService.SetStatus(r.Context(), userID, payload.Status); err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error setting status for user %s: %v", userID, err)
		writeJSONError(w, "更新在线状态失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": string(payload.Status)})
}

// HeartbeatHandler handles POST /api/v1/users/me/heartbeat
func (h *UserHandler) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	if err := h.userService.Heartbeat(r.Context(), userID); err != nil {
		log.Printf("Error processing heartbeat for user %s: %v", userID, err)
		writeJSONError(w, "心跳处理失败", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStatusHandler handles GET /api/v1/users/{userID}/status
func (h *UserHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	targetID := mux.Vars(r)["userID"]
	status, err := h.userService.GetStatus(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error fetching status for user %s: %v", targetID, err)
		writeJSONError(w, "获取在线状态失败", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": string(status)})
}
