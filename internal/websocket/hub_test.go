package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/events"
)

func newTestClient(h *Hub, userID string) *Client {
	return &Client{hub: h, send: make(chan []byte, 4), UserID: userID}
}

func recvPayload(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(time.Second):
		t.Fatal("等待投递超时")
		return nil
	}
}

func TestHubDeliversToRecipientsOnly(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	carol := newTestClient(hub, "carol")
	for _, c := range []*Client{alice, bob, carol} {
		hub.register <- c
	}

	envelope, err := events.NewEnvelope(events.KindDirectMessage, []string{"alice", "bob"}, map[string]string{"content": "hi"})
	require.NoError(t, err)
	hub.Deliver(envelope)

	for _, c := range []*Client{alice, bob} {
		var got events.Envelope
		require.NoError(t, json.Unmarshal(recvPayload(t, c), &got))
		assert.Equal(t, events.KindDirectMessage, got.Kind)
	}

	select {
	case <-carol.send:
		t.Fatal("carol 不在收件人列表中，不应收到投递")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSkipsOfflineRecipients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alice := newTestClient(hub, "alice")
	hub.register <- alice

	// ghost 不在线，投递只到 alice，不报错不阻塞
	envelope, err := events.NewEnvelope(events.KindNotification, []string{"ghost", "alice"}, map[string]string{"content": "ping"})
	require.NoError(t, err)
	hub.Deliver(envelope)

	assert.NotNil(t, recvPayload(t, alice))
}

func TestHubReplacesExistingConnection(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	first := newTestClient(hub, "alice")
	hub.register <- first

	second := newTestClient(hub, "alice")
	hub.register <- second

	// 旧连接的发送通道被关闭
	select {
	case _, open := <-first.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("等待旧连接关闭超时")
	}

	envelope, err := events.NewEnvelope(events.KindPresence, []string{"alice"}, map[string]string{"status": "online"})
	require.NoError(t, err)
	hub.Deliver(envelope)

	assert.NotNil(t, recvPayload(t, second))
}

func TestHubUnregisterIgnoresStaleClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	first := newTestClient(hub, "alice")
	hub.register <- first
	second := newTestClient(hub, "alice")
	hub.register <- second

	// 被替换的旧连接注销时不能影响新连接
	hub.unregister <- first

	envelope, err := events.NewEnvelope(events.KindPresence, []string{"alice"}, map[string]string{"status": "online"})
	require.NoError(t, err)
	hub.Deliver(envelope)

	assert.NotNil(t, recvPayload(t, second))
}
