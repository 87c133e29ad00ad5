package chatserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"chatcore/internal/auth"
	"chatcore/internal/config"
	"chatcore/internal/models"
	"chatcore/internal/services"
	ws "chatcore/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
// 连接仅用于服务端向客户端投递事件以及接收回执确认，
// 所有写操作都走 HTTP API。
type WebSocketHandler struct {
	hub             *ws.Hub
	userService     services.UserService
	messageService  services.MessageService
	groupMsgService services.GroupMessageService
	cfg             config.Config
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(
	hub *ws.Hub,
	userService services.UserService,
	messageService services.MessageService,
	groupMsgService services.GroupMessageService,
	cfg config.Config,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:             hub,
		userService:     userService,
		messageService:  messageService,
		groupMsgService: groupMsgService,
		cfg:             cfg,
	}
}

// ServeWS 处理传入的 WebSocket 请求。
// 认证通过 token 查询参数或 Authorization 头完成，不允许匿名连接。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(token, h.cfg.Auth.JWTSecretKey, h.cfg.Auth.Issuer)
	if err != nil {
		log.Printf("WebSocket 连接尝试失败：令牌无效: %v", err)
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID()
	log.Printf("用户 %s 尝试连接 WebSocket", userID)

	// 连接建立即视为在线，掉线由 presence TTL 过期兜底。
	if err := h.userService.SetStatus(r.Context(), userID, models.StatusOnline); err != nil {
		log.Printf("警告: 无法为用户 %s 设置在线状态: %v", userID, err)
	}

	ackHandler := func(ctx context.Context, userID string, ack ws.ClientAck) error {
		switch ack.Kind {
		case "ack_delivered":
			if ack.GroupID != 0 {
				return h.groupMsgService.MarkGroupMessagesDelivered(ctx, ack.GroupID, userID)
			}
			return h.messageService.MarkMessagesDelivered(ctx, userID, ack.PeerID)
		case "ack_read":
			if ack.GroupID != 0 {
				return h.groupMsgService.MarkGroupMessagesRead(ctx, ack.GroupID, userID)
			}
			return h.messageService.MarkMessagesRead(ctx, userID, ack.PeerID)
		default:
			return errors.New("未知的确认类型: " + ack.Kind)
		}
	}

	ws.ServeWs(h.hub, ackHandler, userID, w, r, h.cfg.WebSocket)
}
