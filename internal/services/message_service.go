package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"chatcore/internal/config"
	"chatcore/internal/events"
	"chatcore/internal/kafka"
	"chatcore/internal/models"
	"chatcore/internal/storage"
)

var (
	ErrEmptyMessage          = errors.New("消息内容不能为空")
	ErrMessageToSelf         = errors.New("不能给自己发送消息")
	ErrMessageNotFound       = errors.New("消息不存在")
	ErrNotMessageParticipant = errors.New("您不是此消息的参与者")
)

// MessageService defines the interface for one-to-one messaging.
type MessageService interface {
	// SendDirectMessage persists the message and publishes a delivery event to
	// the outgoing topic for the chat gateway.
	SendDirectMessage(ctx context.Context, senderID, receiverID, content string, msgType models.MessageType, fileMeta *models.FileMetadata) (*models.DirectMessage, error)
	// MarkMessagesDelivered stamps every undelivered message from senderID to
	// receiverID. Idempotent.
	MarkMessagesDelivered(ctx context.Context, receiverID, senderID string) error
	// MarkMessagesRead stamps read receipts; read implies delivered.
	MarkMessagesRead(ctx context.Context, receiverID, senderID string) error
	// DeleteMessageForUser hides the message for userID, or for everyone when
	// forEveryone is set and the caller is the sender inside the configured
	// window. Outside the window (or for the receiver) the call degrades to
	// delete-for-me. Returns whether the message was deleted for everyone.
	DeleteMessageForUser(ctx context.Context, messageID uint, userID string, forEveryone bool) (bool, error)
	// GetConversation returns the visibility-filtered history between two
	// users, newest first.
	GetConversation(ctx context.Context, viewerID, otherID string, limit, offset int) ([]models.DirectMessage, error)
}

type messageService struct {
	msgRepo   storage.DirectMessageRepository
	userRepo  storage.UserRepository
	producer  kafka.MessageProducer
	kafkaCfg  config.KafkaConfig
	retention config.RetentionConfig
}

// NewMessageService creates a new MessageService instance.
func NewMessageService(
	msgRepo storage.DirectMessageRepository,
	userRepo storage.UserRepository,
	producer kafka.MessageProducer,
	kafkaCfg config.KafkaConfig,
	retention config.RetentionConfig,
) MessageService {
	return &messageService{
		msgRepo:   msgRepo,
		userRepo:  userRepo,
		producer:  producer,
		kafkaCfg:  kafkaCfg,
		retention: retention,
	}
}

// SendDirectMessage persists then publishes; see interface doc.
func (s *messageService) SendDirectMessage(ctx context.Context, senderID, receiverID, content string, msgType models.MessageType, fileMeta *models.FileMetadata) (*models.DirectMessage, error) {
	if senderID == receiverID {
		return nil, ErrMessageToSelf
	}
	if content == "" && fileMeta == nil {
		return nil, ErrEmptyMessage
	}

	// Any authenticated identity may message any other; only existence of the
	// receiver is checked.
	if _, err := s.userRepo.GetByID(ctx, receiverID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("database error checking receiver: %w", err)
	}

	if msgType == "" {
		msgType = models.TextMessageType
	}
	msg := &models.DirectMessage{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		SentAt:     time.Now(),
	}
	if fileMeta != nil {
		raw, err := json.Marshal(fileMeta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
		}
		msg.MetadataRaw = raw
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.publishDelivery(ctx, msg)
	return msg, nil
}

// publishDelivery pushes the stored message onto the outgoing topic. Delivery
// is best effort; the message is already persisted and the receiver will see
// it on the next history fetch even if the event is lost.
func (s *messageService) publishDelivery(ctx context.Context, msg *models.DirectMessage) {
	envelope, err := events.NewEnvelope(events.KindDirectMessage, []string{msg.ReceiverID}, msg)
	if err != nil {
		log.Printf("Error building delivery envelope for message %d: %v", msg.ID, err)
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Error marshalling delivery envelope for message %d: %v", msg.ID, err)
		return
	}
	topic := s.kafkaCfg.OutgoingTopic
	if err := s.producer.SendMessage(ctx, topic, []byte(msg.ReceiverID), payload); err != nil {
		log.Printf("Error producing delivery event to Kafka topic %s for message %d: %v", topic, msg.ID, err)
	}
}

func (s *messageService) MarkMessagesDelivered(ctx context.Context, receiverID, senderID string) error {
	return s.msgRepo.MarkDelivered(ctx, receiverID, senderID, time.Now())
}

func (s *messageService) MarkMessagesRead(ctx context.Context, receiverID, senderID string) error {
	return s.msgRepo.MarkRead(ctx, receiverID, senderID, time.Now())
}

// DeleteMessageForUser applies the soft-delete rules; see interface doc.
func (s *messageService) DeleteMessageForUser(ctx context.Context, messageID uint, userID string, forEveryone bool) (bool, error) {
	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrMessageNotFound
		}
		return false, fmt.Errorf("database error retrieving message %d: %w", messageID, err)
	}
	if userID != msg.SenderID && userID != msg.ReceiverID {
		return false, ErrNotMessageParticipant
	}

	if forEveryone && userID == msg.SenderID && time.Since(msg.SentAt) <= s.retention.DirectDeleteWindow {
		msg.DeletedForEveryone = true
		if err := s.msgRepo.Update(ctx, msg); err != nil {
			return false, fmt.Errorf("failed to delete message %d for everyone: %w", messageID, err)
		}
		return true, nil
	}
	if forEveryone {
		log.Printf("Delete-for-everyone degraded to delete-for-me for message %d (user %s)", messageID, userID)
	}

	if userID == msg.SenderID {
		msg.DeletedForSender = true
	} else {
		msg.DeletedForReceiver = true
	}
	if err := s.msgRepo.Update(ctx, msg); err != nil {
		return false, fmt.Errorf("failed to delete message %d for user %s: %w", messageID, userID, err)
	}
	return false, nil
}

func (s *messageService) GetConversation(ctx context.Context, viewerID, otherID string, limit, offset int) ([]models.DirectMessage, error) {
	return s.msgRepo.GetConversation(ctx, viewerID, otherID, limit, offset)
}
