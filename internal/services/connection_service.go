package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"gorm.io/gorm"

	"chatcore/internal/config"
	"chatcore/internal/events"
	"chatcore/internal/kafka"
	"chatcore/internal/models"
	"chatcore/internal/storage"
)

var (
	ErrConnectionSelf        = errors.New("不能向自己发送连接请求")
	ErrConnectionExists      = errors.New("已存在待处理或已接受的连接")
	ErrConnectionNotFound    = errors.New("连接请求不存在")
	ErrNotConnectionReceiver = errors.New("您不是此连接请求的接收者")
	ErrConnectionNotPending  = errors.New("该连接请求不是待处理状态")
)

// ConnectionService defines the interface for connection (contact) operations.
type ConnectionService interface {
	// RequestConnection validates the request and publishes it to Kafka.
	// Persistence happens asynchronously in ProcessConnectionRequest.
	RequestConnection(ctx context.Context, requesterID, receiverID string) error
	// ProcessConnectionRequest consumes a connection request event from Kafka
	// and persists the pending connection plus its notification.
	ProcessConnectionRequest(ctx context.Context, kafkaMsg *confluentKafka.Message) error
	AcceptConnection(ctx context.Context, receiverID string, connectionID uint) error
	RejectConnection(ctx context.Context, receiverID string, connectionID uint) error
	ListConnections(ctx context.Context, userID string) ([]*models.UserBasicInfo, error)
	ListPendingRequests(ctx context.Context, userID string) ([]*models.ConnectionWithRequester, error)
	AreConnected(ctx context.Context, userA, userB string) (bool, error)
}

type connectionService struct {
	db        *gorm.DB // for transaction support
	userRepo  storage.UserRepository
	connRepo  storage.ConnectionRepository
	notifRepo storage.NotificationRepository
	producer  kafka.MessageProducer
	kafkaCfg  config.KafkaConfig
}

// NewConnectionService creates a new ConnectionService instance.
func NewConnectionService(
	db *gorm.DB,
	userRepo storage.UserRepository,
	connRepo storage.ConnectionRepository,
	notifRepo storage.NotificationRepository,
	producer kafka.MessageProducer,
	kafkaCfg config.KafkaConfig,
) ConnectionService {
	return &connectionService{
		db:        db,
		userRepo:  userRepo,
		connRepo:  connRepo,
		notifRepo: notifRepo,
		producer:  producer,
		kafkaCfg:  kafkaCfg,
	}
}

// RequestConnection validates and publishes; see interface doc.
func (s *connectionService) RequestConnection(ctx context.Context, requesterID, receiverID string) error {
	if requesterID == receiverID {
		return ErrConnectionSelf
	}

	// 1. Check if receiver exists
	_, err := s.userRepo.GetByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		log.Printf("Error checking receiver user %s: %v", receiverID, err)
		return fmt.Errorf("database error checking receiver: %w", err)
	}

	// 2. Check for an existing active row in either direction
	existing, err := s.connRepo.FindActiveByPair(ctx, requesterID, receiverID)
	if err != nil {
		log.Printf("Error checking existing connection between %s and %s: %v", requesterID, receiverID, err)
		return fmt.Errorf("database error checking existing connection: %w", err)
	}
	if existing != nil {
		return ErrConnectionExists
	}

	// 3. Produce event to Kafka
	event := events.ConnectionRequested{
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Timestamp:   time.Now(),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling connection request event for Kafka: %v", err)
		return fmt.Errorf("internal error preparing request: %w", err)
	}

	topic := s.kafkaCfg.ConnectionRequestTopic
	err = s.producer.SendMessage(ctx, topic, []byte(receiverID), eventBytes)
	if err != nil {
		log.Printf("Error producing connection request event to Kafka topic %s: %v", topic, err)
		return fmt.Errorf("failed to send connection request: %w", err)
	}

	log.Printf("Connection request event published to topic %s for %s -> %s", topic, requesterID, receiverID)
	return nil
}

// ProcessConnectionRequest persists the pending connection and derives the
// receiver's notification inside one transaction.
func (s *connectionService) ProcessConnectionRequest(ctx context.Context, kafkaMsg *confluentKafka.Message) error {
	log.Printf("Processing connection request event from Kafka, offset %d", kafkaMsg.TopicPartition.Offset)

	var event events.ConnectionRequested
	if err := json.Unmarshal(kafkaMsg.Value, &event); err != nil {
		log.Printf("Error unmarshalling connection request event from Kafka: %v, value: %s", err, string(kafkaMsg.Value))
		// 非法消息无法重试，直接丢弃
		return nil
	}

	// Re-check: state may have changed between publish and consume.
	existing, err := s.connRepo.FindActiveByPair(ctx, event.RequesterID, event.ReceiverID)
	if err != nil {
		log.Printf("Error re-checking connection pair (%s, %s): %v", event.RequesterID, event.ReceiverID, err)
		return err // DB error, let the consumer retry
	}
	if existing != nil {
		log.Printf("Active connection already exists between %s and %s, skipping creation.", event.RequesterID, event.ReceiverID)
		return nil
	}

	requester, err := s.userRepo.GetBasicInfoByID(ctx, event.RequesterID)
	if err != nil {
		log.Printf("Error loading requester %s for connection request: %v", event.RequesterID, err)
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txConnRepo := storage.NewGormConnectionRepository(tx)
		txNotifRepo := storage.NewGormNotificationRepository(tx)

		conn := &models.Connection{
			RequesterID: event.RequesterID,
			ReceiverID:  event.ReceiverID,
			Status:      models.ConnectionStatusPending,
		}
		if err := txConnRepo.Create(ctx, conn); err != nil {
			return fmt.Errorf("failed to save connection: %w", err)
		}

		notif := &models.Notification{
			UserID:     event.ReceiverID,
			ActorID:    event.RequesterID,
			Type:       models.NotificationConnectionRequest,
			Content:    fmt.Sprintf("%s 请求添加你为联系人", requester.DisplayName),
			TargetID:   conn.IDString(),
			TargetType: models.TargetConnection,
		}
		if err := notif.MarshalData(models.ConnectionRequestData{
			RequesterID:  event.RequesterID,
			ConnectionID: conn.ID,
			Status:       string(models.ConnectionStatusPending),
		}); err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
		if err := txNotifRepo.Create(ctx, notif); err != nil {
			return fmt.Errorf("failed to save notification: %w", err)
		}
		return nil
	})
	if err != nil {
		// 与对向请求并发竞争时由唯一索引兜底，后到者静默丢弃
		if errors.Is(err, storage.ErrActivePairExists) {
			log.Printf("Active connection between %s and %s created concurrently, skipping.", event.RequesterID, event.ReceiverID)
			return nil
		}
		log.Printf("Error saving connection request (%s -> %s): %v", event.RequesterID, event.ReceiverID, err)
		return err
	}

	log.Printf("Connection request from %s to %s saved successfully", event.RequesterID, event.ReceiverID)
	return nil
}

// respond resolves a pending connection to a terminal status and amends the
// original notification in place so the receiver's list does not grow stale
// "pending" entries.
func (s *connectionService) respond(ctx context.Context, receiverID string, connectionID uint, status models.ConnectionStatus) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		txConnRepo := storage.NewGormConnectionRepository(tx)
		txNotifRepo := storage.NewGormNotificationRepository(tx)

		conn, err := txConnRepo.GetByID(ctx, connectionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConnectionNotFound
			}
			log.Printf("Error retrieving connection %d: %v", connectionID, err)
			return fmt.Errorf("database error retrieving connection: %w", err)
		}
		if conn.ReceiverID != receiverID {
			return ErrNotConnectionReceiver
		}
		if conn.Status != models.ConnectionStatusPending {
			return ErrConnectionNotPending
		}

		if err := txConnRepo.UpdateStatus(ctx, connectionID, status); err != nil {
			log.Printf("Error updating connection %d status to %s: %v", connectionID, status, err)
			return fmt.Errorf("failed to update connection status: %w", err)
		}

		// Amend the original connection_request notification rather than
		// appending a second one.
		notif, err := txNotifRepo.FindByTarget(ctx, receiverID, models.NotificationConnectionRequest, conn.IDString())
		if err != nil {
			return fmt.Errorf("failed to look up connection notification: %w", err)
		}
		if notif != nil {
			if err := notif.MarshalData(models.ConnectionRequestData{
				RequesterID:  conn.RequesterID,
				ConnectionID: conn.ID,
				Status:       string(status),
			}); err != nil {
				return fmt.Errorf("failed to marshal notification data: %w", err)
			}
			notif.IsRead = true
			if err := txNotifRepo.Update(ctx, notif); err != nil {
				return fmt.Errorf("failed to amend connection notification: %w", err)
			}
		}
		return nil
	})
}

// AcceptConnection accepts a pending connection request.
func (s *connectionService) AcceptConnection(ctx context.Context, receiverID string, connectionID uint) error {
	return s.respond(ctx, receiverID, connectionID, models.ConnectionStatusAccepted)
}

// RejectConnection rejects a pending connection request. A later re-request
// between the same pair starts over with a new row.
func (s *connectionService) RejectConnection(ctx context.Context, receiverID string, connectionID uint) error {
	return s.respond(ctx, receiverID, connectionID, models.ConnectionStatusRejected)
}

// ListConnections returns basic info for every accepted contact of userID.
func (s *connectionService) ListConnections(ctx context.Context, userID string) ([]*models.UserBasicInfo, error) {
	conns, err := s.connRepo.ListForUser(ctx, userID, models.ConnectionStatusAccepted)
	if err != nil {
		log.Printf("Error listing connections for user %s: %v", userID, err)
		return nil, fmt.Errorf("database error listing connections: %w", err)
	}

	contacts := make([]*models.UserBasicInfo, 0, len(conns))
	for _, conn := range conns {
		otherID := conn.RequesterID
		if otherID == userID {
			otherID = conn.ReceiverID
		}
		info, err := s.userRepo.GetBasicInfoByID(ctx, otherID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue // 对方账号已被清理
			}
			return nil, fmt.Errorf("database error loading contact %s: %w", otherID, err)
		}
		contacts = append(contacts, info)
	}
	return contacts, nil
}

// ListPendingRequests returns pending incoming requests with requester info.
func (s *connectionService) ListPendingRequests(ctx context.Context, userID string) ([]*models.ConnectionWithRequester, error) {
	pending, err := s.connRepo.ListPendingForReceiver(ctx, userID)
	if err != nil {
		log.Printf("Error listing pending requests for user %s: %v", userID, err)
		return nil, fmt.Errorf("database error listing pending requests: %w", err)
	}

	result := make([]*models.ConnectionWithRequester, 0, len(pending))
	for _, conn := range pending {
		requester, err := s.userRepo.GetBasicInfoByID(ctx, conn.RequesterID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("database error loading requester %s: %w", conn.RequesterID, err)
		}
		result = append(result, &models.ConnectionWithRequester{
			Connection: conn,
			Requester:  requester,
		})
	}
	return result, nil
}

// AreConnected reports whether two users have an accepted connection.
func (s *connectionService) AreConnected(ctx context.Context, userA, userB string) (bool, error) {
	return s.connRepo.AreConnected(ctx, userA, userB)
}
