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

// MessageHandler handles HTTP requests for one-to-one messaging.
type MessageHandler struct {
	messageService services.MessageService
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(ms services.MessageService) *MessageHandler {
	return &MessageHandler{messageService: ms}
}

// SendMessagePayload defines the expected JSON body for sending a message.
type SendMessagePayload struct {
	ReceiverID string               `json:"receiverId"`
	Content    string               `json:"content"`
	Type       models.MessageType   `json:"type"`
	FileMeta   *models.FileMetadata `json:"fileMeta,omitempty"`
}

// SendMessageHandler handles POST /api/v1/messages
func (h *MessageHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload SendMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.ReceiverID == "" {
		writeJSONError(w, "缺少接收者ID (receiverId)", http.StatusBadRequest)
		return
	}

	msg, err := h.messageService.SendDirectMessage(r.Context(), senderID, payload.ReceiverID, payload.Content, payload.Type, payload.FileMeta)
	if err != nil {
		if errors.Is(err, services.ErrMessageToSelf) || errors.Is(err, services.ErrEmptyMessage) || errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		} else {
			log.Printf("Error sending message from %s to %s: %v", senderID, payload.ReceiverID, err)
			writeJSONError(w, "发送消息失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// GetConversationHandler handles GET /api/v1/conversations/{userID}/messages
func (h *MessageHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	otherID := mux.Vars(r)["userID"]

	limit, offset := paginationParams(r)
	messages, err := h.messageService.GetConversation(r.Context(), viewerID, otherID, limit, offset)
	if err != nil {
		log.Printf("Error fetching conversation between %s and %s: %v", viewerID, otherID, err)
		writeJSONError(w, "获取会话历史失败", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.DirectMessage{}
	}
	writeJSONResponse(w, http.StatusOK, messages)
}

// MarkDeliveredHandler handles POST /api/v1/conversations/{userID}/delivered
func (h *MessageHandler) MarkDeliveredHandler(w http.ResponseWriter, r *http.Request) {
	h.markReceipts(w, r, false)
}

// MarkReadHandler handles POST /api/v1/conversations/{userID}/read
func (h *MessageHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	h.markReceipts(w, r, true)
}

func (h *MessageHandler) markReceipts(w http.ResponseWriter, r *http.Request, read bool) {
	receiverID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}
	senderID := mux.Vars(r)["userID"]

	var err error
	if read {
		err = h.messageService.MarkMessagesRead(r.Context(), receiverID, senderID)
	} else {
		err = h.messageService.MarkMessagesDelivered(r.Context(), receiverID, senderID)
	}
	if err != nil {
		log.Printf("Error marking receipts for %s from %s: %v", receiverID, senderID, err)
		writeJSONError(w, "更新回执失败", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessageHandler handles DELETE /api/v1/messages/{messageID}?forEveryone=true
func (h *MessageHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
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
	forEveryone := r.URL.Query().Get("forEveryone") == "true"

	deletedForEveryone, err := h.messageService.DeleteMessageForUser(r.Context(), uint(messageID), userID, forEveryone)
	if err != nil {
		if errors.Is(err, services.ErrMessageNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
		} else if errors.Is(err, services.ErrNotMessageParticipant) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
		} else {
			log.Printf("Error deleting message %d for user %s: %v", messageID, userID, err)
			writeJSONError(w, "删除消息失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"deletedForEveryone": deletedForEveryone})
}

// paginationParams extracts limit/offset query parameters, zero when absent.
func paginationParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
