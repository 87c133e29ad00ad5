package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatcore/internal/config"
	"chatcore/internal/models"
	"chatcore/internal/storage"
)

// newTestDB opens an isolated in-memory sqlite database with all tables
// migrated. The pool is capped at one connection so every query sees the same
// in-memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, storage.AutoMigrateTables(db))
	return db
}

func testRetention() config.RetentionConfig {
	return config.RetentionConfig{
		DirectDeleteWindow: 2 * time.Minute,
		GroupDeleteWindow:  24 * time.Hour,
		SweepAge:           30 * 24 * time.Hour,
		SweepInterval:      time.Hour,
		InactiveAccountAge: 180 * 24 * time.Hour,
		InactiveInterval:   24 * time.Hour,
		PresenceTTL:        60 * time.Second,
	}
}

func testKafkaCfg() config.KafkaConfig {
	return config.KafkaConfig{
		ConnectionRequestTopic: "connection-requests",
		OutgoingTopic:          "ws-outgoing",
		ConsumerGroup:          "test-group",
	}
}

// producedMessage captures one SendMessage call on the fake producer.
type producedMessage struct {
	Topic   string
	Key     []byte
	Payload []byte
}

// fakeProducer is a synchronous in-memory kafka.MessageProducer.
type fakeProducer struct {
	mu       sync.Mutex
	messages []producedMessage
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{}
}

func (p *fakeProducer) SendMessage(_ context.Context, topic string, key []byte, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, producedMessage{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (p *fakeProducer) Close() {}

func (p *fakeProducer) last(t *testing.T) producedMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.messages, "期望至少有一条已发布的 Kafka 消息")
	return p.messages[len(p.messages)-1]
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// fakePresence is an in-memory redis.PresenceStore.
type fakePresence struct {
	mu       sync.Mutex
	statuses map[string]models.UserStatus
}

func newFakePresence() *fakePresence {
	return &fakePresence{statuses: make(map[string]models.UserStatus)}
}

func (p *fakePresence) SetStatus(_ context.Context, userID string, status models.UserStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[userID] = status
	return nil
}

func (p *fakePresence) Heartbeat(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[userID] = models.StatusOnline
	return nil
}

func (p *fakePresence) GetStatus(_ context.Context, userID string) (models.UserStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status, ok := p.statuses[userID]; ok {
		return status, nil
	}
	return models.StatusOffline, nil
}

// mustCreateUser inserts a user row directly.
func mustCreateUser(t *testing.T, db *gorm.DB, id, email, displayName string) *models.User {
	t.Helper()
	user := &models.User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Status:      models.StatusOffline,
		LastActive:  time.Now(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// mustConnect inserts an accepted connection between two users.
func mustConnect(t *testing.T, db *gorm.DB, userA, userB string) {
	t.Helper()
	conn := &models.Connection{
		RequesterID: userA,
		ReceiverID:  userB,
		Status:      models.ConnectionStatusAccepted,
	}
	conn.EnsureCanonicalOrder()
	require.NoError(t, db.Create(conn).Error)
}
