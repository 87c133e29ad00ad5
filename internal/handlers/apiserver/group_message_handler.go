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

// GroupMessageHandler 处理群消息与提及相关的 HTTP 请求。
type GroupMessageHandler struct {
	gmService services.GroupMessageService
}

// NewGroupMessageHandler 创建一个新的 GroupMessageHandler。
func NewGroupMessageHandler(gms services.GroupMessageService) *GroupMessageHandler {
	return &GroupMessageHandler{gmService: gms}
}

// SendGroupMessagePayload 定义发送群消息的请求体。
type SendGroupMessagePayload struct {
	Content  string               `json:"content"`
	Type     models.MessageType   `json:"type"`
	Mentions []string             `json:"mentions,omitempty"`
	FileMeta *models.FileMetadata `json:"fileMeta,omitempty"`
}

// SendGroupMessageHandler handles POST /api/v1/groups/{groupID}/messages
func (h *GroupMessageHandler) SendGroupMessageHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	groupID, err := groupIDFromRequest(r)
	if err != nil {
		writeJSONError(w, "无效的群组ID格式", http.StatusBadRequest)
		return
	}

	var payload SendGroupMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	msg, err := h.gmService.SendGroupMessageWithMentions(r.Context(), groupID, senderID, payload.Content, payload.Type, payload.Mentions, payload.FileMeta)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		} else if errors.Is(err, services.ErrNotGroupMember) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
		} else {
			log.Printf("Error sending group message to group %d from %s: %v", groupID, senderID, err)
			writeJSONError(w, "发送群消息失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// GetGroupMessagesHandler handles GET /api/v1/groups/{groupID}/messages
func (h *GroupMessageHandler) GetGroupMessagesHandler(w http.ResponseWriter, r *http.Request) {
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

	limit, offset := paginationParams(r)
	messages, err := h.gmService.GetGroupMessages(r.Context(), groupID, userID, limit, offset)
	if err != nil {
		if errors.Is(err, services.ErrNotGroupMember) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
		} else {
			log.Printf("Error fetching messages of group %d for user %s: %v", groupID, userID, err)
			writeJSONError(w, "获取群消息失败", http.StatusInternalServerError)
		}
		return
	}
	if messages == nil {
		messages = []models.GroupMessage{}
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// MarkGroupDeliveredHandler handles POST /api/v1/groups/{groupID}/messages/delivered
func (h *GroupMessageHandler) MarkGroupDeliveredHandler(w http.ResponseWriter, r *http.Request) {
	h.markReceipts(w, r, false)
}

// MarkGroupReadHandler handles POST /api/v1/groups/{groupID}/messages/read
func (h *GroupMessageHandler) MarkGroupReadHandler(w http.ResponseWriter, r *http.Request) {
	h.markReceipts(w, r, true)
}

func (h *GroupMessageHandler) markReceipts(w http.ResponseWriter, r *http.Request, read bool) {
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

	if read {
		err = h.gmService.MarkGroupMessagesRead(r.Context(), groupID, userID)
	} else {
		err = h.gmService.MarkGroupMessagesDelivered(r.Context(), groupID, userID)
	}
	if err != nil {
		if errors.Is(err, services.ErrNotGroupMember) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
			return
		}
		log.Printf("Error marking group receipts for user %s in group %d: %v", userID, groupID, err)
		writeJSONError(w, "更新回执失败", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteGroupMessageHandler handles DELETE /api/v1/group-messages/{messageID}?forEveryone=true
func (h *GroupMessageHandler) DeleteGroupMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	messageID, err := strconv.ParseUint(mux.Vars(r)["messageID"], 10, 32)
	if err != nil {
		writeJSONError(w, "无效的消息ID格式", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("forEveryone") == "true" {
		deleted, err := h.gmService.DeleteGroupMessageForEveryone(r.Context(), uint(messageID), userID)
		if err != nil {
			h.writeDeleteError(w, err, uint(messageID), userID)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]bool{"deletedForEveryone": deleted})
		return
	}

	if err := h.gmService.DeleteGroupMessageForUser(r.Context(), uint(messageID), userID); err != nil {
		h.writeDeleteError(w, err, uint(messageID), userID)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"deletedForEveryone": false})
}

func (h *GroupMessageHandler) writeDeleteError(w http.ResponseWriter, err error, messageID uint, userID string) {
	switch {
	case errors.Is(err, services.ErrMessageNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrNotGroupMember), errors.Is(err, services.ErrNotMessageSender):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	default:
		log.Printf("Error deleting group message %d for user %s: %v", messageID, userID, err)
		writeJSONError(w, "删除群消息失败", http.StatusInternalServerError)
	}
}

// ListMentionsHandler handles GET /api/v1/mentions?unread=true
func (h *GroupMessageHandler) ListMentionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	mentions, err := h.gmService.ListMentions(r.Context(), userID, unreadOnly)
	if err != nil {
		log.Printf("Error fetching mentions for user %s: %v", userID, err)
		writeJSONError(w, "获取提及列表失败", http.StatusInternalServerError)
		return
	}
	if mentions == nil {
		mentions = []models.Mention{}
	}
	writeJSONResponse(w, http.StatusOK, mentions)
}
