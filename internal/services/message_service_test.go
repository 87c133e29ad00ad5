package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"chatcore/internal/events"
	"chatcore/internal/models"
	"chatcore/internal/storage"
)

type messageTestEnv struct {
	db       *gorm.DB
	svc      MessageService
	producer *fakeProducer
	msgRepo  storage.DirectMessageRepository
}

func newMessageTestEnv(t *testing.T) *messageTestEnv {
	t.Helper()
	db := newTestDB(t)
	userRepo := storage.NewGormUserRepository(db)
	msgRepo := storage.NewGormDirectMessageRepository(db)
	producer := newFakeProducer()

	mustCreateUser(t, db, "u1", "alice@example.com", "Alice")
	mustCreateUser(t, db, "u2", "bob@example.com", "Bob")

	svc := NewMessageService(msgRepo, userRepo, producer, testKafkaCfg(), testRetention())
	return &messageTestEnv{db: db, svc: svc, producer: producer, msgRepo: msgRepo}
}

func TestSendDirectMessage(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TextMessageType, msg.Type)
	assert.NotZero(t, msg.ID)

	// 投递事件发布到出站 topic，接收者是唯一的收件人
	produced := env.producer.last(t)
	assert.Equal(t, "ws-outgoing", produced.Topic)
	assert.Equal(t, []byte("u2"), produced.Key)

	var envelope events.Envelope
	require.NoError(t, json.Unmarshal(produced.Payload, &envelope))
	assert.Equal(t, events.KindDirectMessage, envelope.Kind)
	assert.Equal(t, []string{"u2"}, envelope.Recipients)
}

func TestSendDirectMessageValidation(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.SendDirectMessage(ctx, "u1", "u1", "hi", "", nil)
	assert.ErrorIs(t, err, ErrMessageToSelf)

	_, err = env.svc.SendDirectMessage(ctx, "u1", "u2", "", "", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = env.svc.SendDirectMessage(ctx, "u1", "ghost", "hi", "", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSendDirectMessageWithFile(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	// 空正文但带文件元数据是合法的
	meta := &models.FileMetadata{FileName: "report.pdf", FileSize: 2048, MimeType: "application/pdf"}
	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "", models.FileMessageType, meta)
	require.NoError(t, err)

	stored, err := env.msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	parsed, err := stored.GetFileMetadata()
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, "report.pdf", parsed.FileName)
}

func TestMessageReceipts(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.MarkMessagesDelivered(ctx, "u2", "u1"))
	stored, err := env.msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DeliveredAt)
	assert.Nil(t, stored.ReadAt)
	firstDelivered := *stored.DeliveredAt

	// 重复确认幂等，不覆盖时间戳
	require.NoError(t, env.svc.MarkMessagesDelivered(ctx, "u2", "u1"))
	stored, err = env.msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.DeliveredAt.Equal(firstDelivered))

	require.NoError(t, env.svc.MarkMessagesRead(ctx, "u2", "u1"))
	stored, err = env.msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ReadAt)
}

func TestMarkReadImpliesDelivered(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)

	// 直接标已读也要补上送达时间
	require.NoError(t, env.svc.MarkMessagesRead(ctx, "u2", "u1"))
	stored, err := env.msgRepo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DeliveredAt)
	assert.NotNil(t, stored.ReadAt)
}

func TestDeleteMessageForMe(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)

	forEveryone, err := env.svc.DeleteMessageForUser(ctx, msg.ID, "u2", false)
	require.NoError(t, err)
	assert.False(t, forEveryone)

	// 接收者看不到了，发送者仍然可见
	convo, err := env.svc.GetConversation(ctx, "u2", "u1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, convo)

	convo, err = env.svc.GetConversation(ctx, "u1", "u2", 10, 0)
	require.NoError(t, err)
	assert.Len(t, convo, 1)
}

func TestDeleteMessageForEveryoneWithinWindow(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)

	forEveryone, err := env.svc.DeleteMessageForUser(ctx, msg.ID, "u1", true)
	require.NoError(t, err)
	assert.True(t, forEveryone)

	// 双方都看不到
	convo, err := env.svc.GetConversation(ctx, "u1", "u2", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, convo)
	convo, err = env.svc.GetConversation(ctx, "u2", "u1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, convo)
}

func TestDeleteMessageForEveryoneDegrades(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	// 超出时间窗口的消息：降级为仅对自己删除
	old := &models.DirectMessage{
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "old message",
		Type:       models.TextMessageType,
		SentAt:     time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, env.msgRepo.Create(ctx, old))

	forEveryone, err := env.svc.DeleteMessageForUser(ctx, old.ID, "u1", true)
	require.NoError(t, err)
	assert.False(t, forEveryone)

	// 接收者仍然可见
	convo, err := env.svc.GetConversation(ctx, "u2", "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, convo, 1)

	// 接收者请求为所有人删除同样降级
	recent, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hi", "", nil)
	require.NoError(t, err)
	forEveryone, err = env.svc.DeleteMessageForUser(ctx, recent.ID, "u2", true)
	require.NoError(t, err)
	assert.False(t, forEveryone)
}

func TestDeleteMessagePermissions(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()
	mustCreateUser(t, env.db, "u3", "carol@example.com", "Carol")

	msg, err := env.svc.SendDirectMessage(ctx, "u1", "u2", "hello", "", nil)
	require.NoError(t, err)

	_, err = env.svc.DeleteMessageForUser(ctx, msg.ID, "u3", false)
	assert.ErrorIs(t, err, ErrNotMessageParticipant)

	_, err = env.svc.DeleteMessageForUser(ctx, 9999, "u1", false)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestGetConversationOrderAndPaging(t *testing.T) {
	env := newMessageTestEnv(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		_, err := env.svc.SendDirectMessage(ctx, "u1", "u2", content, "", nil)
		require.NoError(t, err)
	}

	// 最新在前
	convo, err := env.svc.GetConversation(ctx, "u2", "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, convo, 2)
	assert.Equal(t, "third", convo[0].Content)
	assert.Equal(t, "second", convo[1].Content)

	convo, err = env.svc.GetConversation(ctx, "u2", "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, convo, 1)
	assert.Equal(t, "first", convo[0].Content)
}
