package websocket

import (
	"encoding/json"
	"log"

	"chatcore/internal/events"
)

// Hub maintains the set of active clients and routes outgoing envelopes to
// them. One connection per user id; a new connection replaces the old one.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	// Envelopes consumed from the outgoing topic, fanned out to recipients.
	deliveries chan *events.Envelope
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan *events.Envelope, 256),
	}
}

// Deliver hands an envelope to the hub for fan-out. Non-blocking so the Kafka
// consumer never stalls behind a slow websocket; a dropped envelope is
// recovered by the client's next history fetch.
func (h *Hub) Deliver(envelope *events.Envelope) {
	select {
	case h.deliveries <- envelope:
	default:
		log.Printf("警告: Hub delivery channel is full, dropping %s envelope", envelope.Kind)
	}
}

// Run starts the hub loop.
func (h *Hub) Run() {
	log.Println("WebSocket Hub Run loop started.")
	for {
		select {
		case client := <-h.register:
			if existing, ok := h.clients[client.UserID]; ok {
				log.Printf("警告: 用户 %s 已有连接，关闭旧连接并注册新连接。", client.UserID)
				close(existing.send)
			}
			h.clients[client.UserID] = client
			log.Printf("客户端已注册: UserID %s", client.UserID)

		case client := <-h.unregister:
			if stored, ok := h.clients[client.UserID]; ok && stored == client {
				delete(h.clients, client.UserID)
				close(client.send)
				log.Printf("客户端已注销: UserID %s", client.UserID)
			}

		case envelope := <-h.deliveries:
			payload, err := json.Marshal(envelope)
			if err != nil {
				log.Printf("错误: 无法序列化 %s envelope: %v", envelope.Kind, err)
				continue
			}
			for _, userID := range envelope.Recipients {
				client, ok := h.clients[userID]
				if !ok {
					// 收件人连在别的节点或不在线，静默跳过
					continue
				}
				select {
				case client.send <- payload:
				default:
					log.Printf("客户端 %s 的发送通道已满或关闭，移除客户端。", userID)
					close(client.send)
					delete(h.clients, userID)
				}
			}
		}
	}
}
