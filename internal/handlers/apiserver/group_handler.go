package apiserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatcore/internal/middleware"
	"chatcore/internal/models"
	"chatcore/internal/services"
)

// GroupHandler 处理群组与成员相关的 HTTP 请求。
type GroupHandler struct {
	groupService services.GroupService
}

// NewGroupHandler 创建一个新的 GroupHandler。
func NewGroupHandler(gs services.GroupService) *GroupHandler {
	return &GroupHandler{groupService: gs}
}

func groupIDFromRequest(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["groupID"], 10, 32)
	return uint(id), err
}

// writeGroupError maps group service sentinels to HTTP statuses.
func writeGroupError(w http.ResponseWriter, err error, logContext string) {
	switch {
	case errors.Is(err, services.ErrGroupNotFound),
		errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrInviteNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrNotGroupMember),
		errors.Is(err, services.ErrNotGroupAdmin),
		errors.Is(err, services.ErrNotGroupOwner),
		errors.Is(err, services.ErrCannotRemoveOwner),
		errors.Is(err, services.ErrCannotRemoveAdmin),
		errors.Is(err, services.ErrNotInviteRecipient):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrGroupNameTaken),
		errors.Is(err, services.ErrAlreadyMember),
		errors.Is(err, services.ErrInviteAlreadyHandled):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInvalidGroupName),
		errors.Is(err, services.ErrEmailNotRegistered),
		errors.Is(err, services.ErrCannotRemoveSelf),
		errors.Is(err, services.ErrSuccessorNotMember):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("Error %s: %v", logContext, err)
		writeJSONError(w, "群组操作失败", http.StatusInternalServerError)
	}
}

// CreateGroupPayload 定义创建群组的请求体。
type CreateGroupPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatarUrl"`
}

// CreateGroupHandler handles POST /api/v1/groups
func (h *GroupHandler) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload CreateGroupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	group, err := h.groupService.CreateGroup(r.Context(), userID, payload.Name, payload.Description, payload.AvatarURL)
	if err != nil {
		writeGroupError(w, err, "creating group")
		return
	}
	writeJSONResponse(w, http.StatusCreated, group)
}

// GetGroupHandler handles GET /api/v1/groups/{groupID}
func (h *GroupHandler) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	group, err := h.groupService.GetGroupDetails(r.Context(), groupID, userID)
	if err != nil {
		writeGroupError(w, err, "fetching group")
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// UpdateGroupPayload 定义更新群组的请求体。
type UpdateGroupPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatarUrl"`
}

// UpdateGroupHandler handles PUT /api/v1/groups/{groupID}
func (h *GroupHandler) UpdateGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	var payload UpdateGroupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	group, err := h.groupService.UpdateGroup(r.Context(), groupID, userID, payload.Name, payload.Description, payload.AvatarURL)
	if err != nil {
		writeGroupError(w, err, "updating group")
		return
	}
	writeJSONResponse(w, http.StatusOK, group)
}

// AddMemberPayload 定义按邮箱拉人的请求体。
type AddMemberPayload struct {
	Email string `json:"email"`
}

// AddMemberHandler handles POST /api/v1/groups/{groupID}/members
func (h *GroupHandler) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	var payload AddMemberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.Email == "" {
		writeJSONError(w, "缺少目标用户邮箱 (email)", http.StatusBadRequest)
		return
	}

	result, err := h.groupService.AddUserToGroupWithCheck(r.Context(), groupID, payload.Email, userID)
	if err != nil {
		writeGroupError(w, err, "adding group member")
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// RespondToInvitePayload 定义处理群组邀请的请求体。
type RespondToInvitePayload struct {
	Accept bool `json:"accept"`
}

// RespondToInviteHandler handles POST /api/v1/group-invites/{notificationID}
func (h *GroupHandler) RespondToInviteHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	notificationID, err := strconv.ParseUint(mux.Vars(r)["notificationID"], 10, 32)
	if err != nil {
		writeJSONError(w, "无效的邀请ID格式", http.StatusBadRequest)
		return
	}

	var payload RespondToInvitePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.groupService.RespondToGroupInvite(r.Context(), uint(notificationID), userID, payload.Accept); err != nil {
		writeGroupError(w, err, "responding to group invite")
		return
	}
	message := "已加入群组"
	if !payload.Accept {
		message = "已拒绝群组邀请"
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": message})
}

// LeaveGroupPayload 定义退出群组的请求体。SuccessorID 可选。
type LeaveGroupPayload struct {
	SuccessorID string `json:"successorId"`
}

// LeaveGroupHandler handles POST /api/v1/groups/{groupID}/leave
func (h *GroupHandler) LeaveGroupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	var payload LeaveGroupPayload
	if r.Body != nil {
		// 请求体可选
		_ = json.NewDecoder(r.Body).Decode(&payload)
		defer r.Body.Close()
	}

	action, err := h.groupService.LeaveGroup(r.Context(), groupID, userID, payload.SuccessorID)
	if err != nil {
		writeGroupError(w, err, "leaving group")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"action": string(action)})
}

// RemoveMemberHandler handles DELETE /api/v1/groups/{groupID}/members/{userID}
func (h *GroupHandler) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}
	targetID := mux.Vars(r)["userID"]

	if err := h.groupService.RemoveMember(r.Context(), groupID, targetID, actorID); err != nil {
		writeGroupError(w, err, "removing group member")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "成员已移出群组"})
}

// TransferOwnershipPayload 定义移交群主的请求体。
type TransferOwnershipPayload struct {
	NewOwnerID string `json:"newOwnerId"`
}

// TransferOwnershipHandler handles POST /api/v1/groups/{groupID}/transfer
func (h *GroupHandler) TransferOwnershipHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	var payload TransferOwnershipPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.NewOwnerID == "" {
		writeJSONError(w, "缺少新群主ID (newOwnerId)", http.StatusBadRequest)
		return
	}

	if err := h.groupService.TransferOwnership(r.Context(), groupID, userID, payload.NewOwnerID); err != nil {
		writeGroupError(w, err, "transferring group ownership")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "群主已移交"})
}

// PromoteMemberHandler handles POST /api/v1/groups/{groupID}/members/{userID}/promote
func (h *GroupHandler) PromoteMemberHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}
	targetID := mux.Vars(r)["userID"]

	if err := h.groupService.PromoteMember(r.Context(), groupID, targetID, actorID); err != nil {
		writeGroupError(w, err, "promoting group member")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "成员已提拔为管理员"})
}

// GetGroupMembersHandler handles GET /api/v1/groups/{groupID}/members
func (h *GroupHandler) GetGroupMembersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	members, err := h.groupService.GetGroupMembers(r.Context(), groupID, userID)
	if err != nil {
		writeGroupError(w, err, "fetching group members")
		return
	}
	if members == nil {
		members = []models.GroupMember{}
	}
	writeJSONResponse(w, http.StatusOK, members)
}

// GetMyGroupsHandler handles GET /api/v1/groups
func (h *GroupHandler) GetMyGroupsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	groups, err := h.groupService.GetUserGroups(r.Context(), userID)
	if err != nil {
		writeGroupError(w, err, "fetching user groups")
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSONResponse(w, http.StatusOK, groups)
}
