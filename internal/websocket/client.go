package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatcore/internal/config"
)

// ClientAck is what a connected client sends back over the socket. The
// gateway only accepts receipt acknowledgements; everything that mutates
// state goes through the HTTP API.
type ClientAck struct {
	Kind string `json:"kind"` // "ack_delivered" | "ack_read"
	// PeerID is the sender whose direct messages are being acknowledged, or
	// empty when GroupID is set.
	PeerID  string `json:"peerId,omitempty"`
	GroupID uint   `json:"groupId,omitempty"`
}

// AckHandler is invoked for each acknowledgement a client sends.
type AckHandler func(ctx context.Context, userID string, ack ClientAck) error

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated user id for this connection.
	UserID string

	handleAck AckHandler
}

// readPump pumps acknowledgements from the websocket connection to handleAck.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket 错误 (客户端: %s): %v", c.UserID, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			log.Printf("警告: 客户端 %s 发送了非文本消息类型: %d", c.UserID, messageType)
			continue
		}

		var ack ClientAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			log.Printf("错误: 无法反序列化来自客户端 %s 的JSON: %v, 原始消息: %s", c.UserID, err, string(raw))
			continue
		}
		if c.handleAck == nil {
			continue
		}
		if err := c.handleAck(context.Background(), c.UserID, ack); err != nil {
			log.Printf("错误: 处理客户端 %s 的回执失败: %v", c.UserID, err)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	newline := []byte("\n")
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 聚合发送队列中积压的其他消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades an authenticated HTTP request to a websocket connection
// and registers it with the hub.
func ServeWs(hub *Hub, ackHandler AckHandler, userID string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsCfg.MaxMessageSizeBytes,
		WriteBufferSize: wsCfg.MaxMessageSizeBytes,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ServeWs - Upgrade失败:", err)
		return
	}
	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		UserID:    userID,
		handleAck: ackHandler,
	}
	client.hub.register <- client

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	log.Printf("客户端已连接: UserID %s", userID)
}
