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

// ConnectionHandler handles HTTP requests related to connections.
type ConnectionHandler struct {
	connService services.ConnectionService
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(cs services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connService: cs}
}

// RequestConnectionPayload defines the expected JSON body for a new request.
type RequestConnectionPayload struct {
	ReceiverID string `json:"receiverId"`
}

// RequestConnectionHandler handles POST /api/v1/connections
func (h *ConnectionHandler) RequestConnectionHandler(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	var payload RequestConnectionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if payload.ReceiverID == "" {
		writeJSONError(w, "缺少接收者ID (receiverId)", http.StatusBadRequest)
		return
	}

	err := h.connService.RequestConnection(r.Context(), requesterID, payload.ReceiverID)
	if err != nil {
		if errors.Is(err, services.ErrConnectionSelf) || errors.Is(err, services.ErrUserNotFound) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		} else if errors.Is(err, services.ErrConnectionExists) {
			writeJSONError(w, err.Error(), http.StatusConflict)
		} else {
			log.Printf("Error requesting connection from %s to %s: %v", requesterID, payload.ReceiverID, err)
			writeJSONError(w, "发送连接请求失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"message": "连接请求已发送处理"})
}

func (h *ConnectionHandler) respond(w http.ResponseWriter, r *http.Request, accept bool) {
	receiverID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	connectionID, err := strconv.ParseUint(mux.Vars(r)["connectionID"], 10, 32)
	if err != nil {
		writeJSONError(w, "无效的连接请求ID格式", http.StatusBadRequest)
		return
	}

	if accept {
		err = h.connService.AcceptConnection(r.Context(), receiverID, uint(connectionID))
	} else {
		err = h.connService.RejectConnection(r.Context(), receiverID, uint(connectionID))
	}
	if err != nil {
		if errors.Is(err, services.ErrConnectionNotFound) {
			writeJSONError(w, err.Error(), http.StatusNotFound)
		} else if errors.Is(err, services.ErrNotConnectionReceiver) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
		} else if errors.Is(err, services.ErrConnectionNotPending) {
			writeJSONError(w, err.Error(), http.StatusConflict)
		} else {
			log.Printf("Error responding to connection %d by user %s: %v", connectionID, receiverID, err)
			writeJSONError(w, "处理连接请求失败", http.StatusInternalServerError)
		}
		return
	}

	message := "连接请求已接受"
	if !accept {
		message = "连接请求已拒绝"
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": message})
}

// AcceptConnectionHandler handles POST /api/v1/connections/{connectionID}/accept
func (h *ConnectionHandler) AcceptConnectionHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, true)
}

// RejectConnectionHandler handles POST /api/v1/connections/{connectionID}/reject
func (h *ConnectionHandler) RejectConnectionHandler(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false)
}

// ListConnectionsHandler handles GET /api/v1/connections
func (h *ConnectionHandler) ListConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	contacts, err := h.connService.ListConnections(r.Context(), userID)
	if err != nil {
		log.Printf("Error fetching connections for user %s: %v", userID, err)
		writeJSONError(w, "获取联系人列表失败", http.StatusInternalServerError)
		return
	}
	if contacts == nil {
		contacts = []*models.UserBasicInfo{}
	}
	writeJSONResponse(w, http.StatusOK, contacts)
}

// ListPendingRequestsHandler handles GET /api/v1/connections/pending
func (h *ConnectionHandler) ListPendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "无法从上下文中获取用户ID", http.StatusUnauthorized)
		return
	}

	pending, err := h.connService.ListPendingRequests(r.Context(), userID)
	if err != nil {
		log.Printf("Error fetching pending requests for user %s: %v", userID, err)
		writeJSONError(w, "获取待处理请求失败", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []*models.ConnectionWithRequester{}
	}
	writeJSONResponse(w, http.StatusOK, pending)
}
