package services

import (
	"context"
	"encoding/json"
	"testing"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"chatcore/internal/models"
	"chatcore/internal/storage"
)

type connectionTestEnv struct {
	db        *gorm.DB
	svc       ConnectionService
	producer  *fakeProducer
	notifRepo storage.NotificationRepository
	connRepo  storage.ConnectionRepository
}

func newConnectionTestEnv(t *testing.T) *connectionTestEnv {
	t.Helper()
	db := newTestDB(t)
	userRepo := storage.NewGormUserRepository(db)
	connRepo := storage.NewGormConnectionRepository(db)
	notifRepo := storage.NewGormNotificationRepository(db)
	producer := newFakeProducer()

	svc := NewConnectionService(db, userRepo, connRepo, notifRepo, producer, testKafkaCfg())
	return &connectionTestEnv{db: db, svc: svc, producer: producer, notifRepo: notifRepo, connRepo: connRepo}
}

// pump 把最近一次发布到 Kafka 的请求事件交给消费者回调，模拟异步落库。
func (env *connectionTestEnv) pump(t *testing.T) {
	t.Helper()
	msg := env.producer.last(t)
	require.Equal(t, "connection-requests", msg.Topic)
	err := env.svc.ProcessConnectionRequest(context.Background(), &confluentKafka.Message{Value: msg.Payload})
	require.NoError(t, err)
}

func TestRequestConnectionValidation(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")

	err := env.svc.RequestConnection(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrConnectionSelf)

	err = env.svc.RequestConnection(ctx, "u1", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestConnectionRequestLifecycle(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, env.db, "u2", "bob@example.com", "Bob")

	require.NoError(t, env.svc.RequestConnection(ctx, "u1", "u2"))
	env.pump(t)

	// 待处理请求和通知都已落库
	pending, err := env.svc.ListPendingRequests(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u1", pending[0].RequesterID)
	require.NotNil(t, pending[0].Requester)
	assert.Equal(t, "Alice", pending[0].Requester.DisplayName)

	notifs, err := env.notifRepo.ListForUser(ctx, "u2", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, models.NotificationConnectionRequest, notifs[0].Type)
	assert.False(t, notifs[0].IsRead)

	// 接受后双方互为联系人，通知被原地更新
	require.NoError(t, env.svc.AcceptConnection(ctx, "u2", pending[0].ID))

	connected, err := env.svc.AreConnected(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, connected)

	notifs, err = env.notifRepo.ListForUser(ctx, "u2", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1, "通知应被更新而不是新增")
	assert.True(t, notifs[0].IsRead)

	var data models.ConnectionRequestData
	require.NoError(t, json.Unmarshal(notifs[0].Data, &data))
	assert.Equal(t, "accepted", data.Status)

	contacts, err := env.svc.ListConnections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "u2", contacts[0].ID)
}

func TestRequestConnectionDuplicate(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, env.db, "u2", "bob@example.com", "Bob")

	require.NoError(t, env.svc.RequestConnection(ctx, "u1", "u2"))
	env.pump(t)

	// 已有待处理请求时，无论方向如何都拒绝
	assert.ErrorIs(t, env.svc.RequestConnection(ctx, "u1", "u2"), ErrConnectionExists)
	assert.ErrorIs(t, env.svc.RequestConnection(ctx, "u2", "u1"), ErrConnectionExists)
}

func TestRejectThenReRequest(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, env.db, "u2", "bob@example.com", "Bob")

	require.NoError(t, env.svc.RequestConnection(ctx, "u1", "u2"))
	env.pump(t)

	pending, err := env.svc.ListPendingRequests(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, env.svc.RejectConnection(ctx, "u2", pending[0].ID))

	connected, err := env.svc.AreConnected(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, connected)

	// 拒绝是终态，重新请求会建立新的记录
	require.NoError(t, env.svc.RequestConnection(ctx, "u1", "u2"))
	env.pump(t)

	pending, err = env.svc.ListPendingRequests(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEqual(t, uint(0), pending[0].ID)
}

func TestRespondConnectionPermissions(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, env.db, "u2", "bob@example.com", "Bob")
	mustCreateUser(t, env.db, "u3", "carol@example.com", "Carol")

	require.NoError(t, env.svc.RequestConnection(ctx, "u1", "u2"))
	env.pump(t)

	pending, err := env.svc.ListPendingRequests(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	connID := pending[0].ID

	// 只有接收者能处理
	assert.ErrorIs(t, env.svc.AcceptConnection(ctx, "u1", connID), ErrNotConnectionReceiver)
	assert.ErrorIs(t, env.svc.AcceptConnection(ctx, "u3", connID), ErrNotConnectionReceiver)

	require.NoError(t, env.svc.AcceptConnection(ctx, "u2", connID))

	// 已处理的请求不能再处理
	assert.ErrorIs(t, env.svc.AcceptConnection(ctx, "u2", connID), ErrConnectionNotPending)
	assert.ErrorIs(t, env.svc.RejectConnection(ctx, "u2", connID), ErrConnectionNotPending)

	assert.ErrorIs(t, env.svc.AcceptConnection(ctx, "u2", 9999), ErrConnectionNotFound)
}

func TestProcessConnectionRequestBadPayload(t *testing.T) {
	env := newConnectionTestEnv(t)

	// 坏消息被丢弃，不能让消费者停摆
	err := env.svc.ProcessConnectionRequest(context.Background(), &confluentKafka.Message{Value: []byte("not json")})
	assert.NoError(t, err)
}

func TestProcessConnectionRequestRechecksPair(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, env.db, "u2", "bob@example.com", "Bob")

	require.NoError(t, env.svc.RequestConnection(ctx, "u1", "u2"))
	first := env.producer.last(t)
	env.pump(t)

	// 消费端重放同一事件时重新校验，不产生重复记录
	require.NoError(t, env.svc.ProcessConnectionRequest(ctx, &confluentKafka.Message{Value: first.Payload}))

	pending, err := env.svc.ListPendingRequests(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestActivePairUniqueIndex(t *testing.T) {
	env := newConnectionTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, env.db, "u2", "bob@example.com", "Bob")

	// 对向请求绕过服务层预检直接落库时，由唯一索引挡住第二行
	require.NoError(t, env.connRepo.Create(ctx, &models.Connection{
		RequesterID: "u1", ReceiverID: "u2", Status: models.ConnectionStatusPending,
	}))
	err := env.connRepo.Create(ctx, &models.Connection{
		RequesterID: "u2", ReceiverID: "u1", Status: models.ConnectionStatusPending,
	})
	assert.ErrorIs(t, err, storage.ErrActivePairExists)

	// 拒绝后的行是历史记录，不再占用索引，可重新发起
	existing, err := env.connRepo.FindActiveByPair(ctx, "u1", "u2")
	require.NoError(t, err)
	require.NotNil(t, existing)
	require.NoError(t, env.connRepo.UpdateStatus(ctx, existing.ID, models.ConnectionStatusRejected))

	require.NoError(t, env.connRepo.Create(ctx, &models.Connection{
		RequesterID: "u2", ReceiverID: "u1", Status: models.ConnectionStatusPending,
	}))
}
