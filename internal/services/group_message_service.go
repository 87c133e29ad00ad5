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

var ErrNotMessageSender = errors.New("只有发送者可以为所有人删除消息")

// GroupMessageService 定义了群消息与提及相关服务的接口。
type GroupMessageService interface {
	// SendGroupMessageWithMentions 持久化群消息。提及的用户 id 会先对照当前
	// 成员名单重新校验，幸存的每个 id 得到一条 Mention 记录和一条 mention 通知。
	SendGroupMessageWithMentions(ctx context.Context, groupID uint, senderID, content string, msgType models.MessageType, mentionIDs []string, fileMeta *models.FileMetadata) (*models.GroupMessage, error)
	// MarkGroupMessagesDelivered 将群内他人发出的消息标记为已送达。幂等。
	MarkGroupMessagesDelivered(ctx context.Context, groupID uint, userID string) error
	// MarkGroupMessagesRead 标记已读；已读蕴含已送达。幂等。
	MarkGroupMessagesRead(ctx context.Context, groupID uint, userID string) error
	// DeleteGroupMessageForUser 仅对自己隐藏消息。
	DeleteGroupMessageForUser(ctx context.Context, messageID uint, userID string) error
	// DeleteGroupMessageForEveryone 为所有人删除消息。仅发送者可操作；超出
	// 配置的时间窗口时降级为仅对自己删除。返回是否真的对所有人删除了。
	DeleteGroupMessageForEveryone(ctx context.Context, messageID uint, userID string) (bool, error)
	// GetGroupMessages 获取对该成员可见的群消息历史，最新在前。
	GetGroupMessages(ctx context.Context, groupID uint, userID string, limit, offset int) ([]models.GroupMessage, error)
	// ListMentions 列出用户收到的提及。
	ListMentions(ctx context.Context, userID string, unreadOnly bool) ([]models.Mention, error)
}

// groupMessageService 是 GroupMessageService 的实现。
type groupMessageService struct {
	db        *gorm.DB
	msgRepo   storage.GroupMessageRepository
	groupRepo storage.GroupRepository
	userRepo  storage.UserRepository
	producer  kafka.MessageProducer
	kafkaCfg  config.KafkaConfig
	retention config.RetentionConfig
}

// NewGroupMessageService 创建一个新的 GroupMessageService 实例。
func NewGroupMessageService(
	db *gorm.DB,
	msgRepo storage.GroupMessageRepository,
	groupRepo storage.GroupRepository,
	userRepo storage.UserRepository,
	producer kafka.MessageProducer,
	kafkaCfg config.KafkaConfig,
	retention config.RetentionConfig,
) GroupMessageService {
	return &groupMessageService{
		db:        db,
		msgRepo:   msgRepo,
		groupRepo: groupRepo,
		userRepo:  userRepo,
		producer:  producer,
		kafkaCfg:  kafkaCfg,
		retention: retention,
	}
}

// SendGroupMessageWithMentions 见接口说明。
func (s *groupMessageService) SendGroupMessageWithMentions(ctx context.Context, groupID uint, senderID, content string, msgType models.MessageType, mentionIDs []string, fileMeta *models.FileMetadata) (*models.GroupMessage, error) {
	if content == "" && fileMeta == nil {
		return nil, ErrEmptyMessage
	}

	// 1. 发送者必须是群成员
	members, err := s.requireRoster(ctx, groupID, senderID)
	if err != nil {
		return nil, err
	}

	// 2. 对照名单重新校验提及列表：去重、去自引、丢弃非成员
	roster := make(map[string]bool, len(members))
	for _, m := range members {
		roster[m.UserID] = true
	}
	var mentioned models.StringSet
	for _, id := range mentionIDs {
		if id == senderID || !roster[id] {
			continue
		}
		mentioned.Add(id)
	}

	if msgType == "" {
		msgType = models.TextMessageType
	}
	msg := &models.GroupMessage{
		GroupID:        groupID,
		SenderID:       senderID,
		AuthorKind:     models.AuthorUser,
		Content:        content,
		Type:           msgType,
		SentAt:         time.Now(),
		MentionedUsers: mentioned,
	}
	if fileMeta != nil {
		raw, err := json.Marshal(fileMeta)
		if err != nil {
			return nil, fmt.Errorf("序列化文件元数据失败: %w", err)
		}
		msg.MetadataRaw = raw
	}

	senderName := s.senderDisplayName(ctx, senderID)

	// 3. 消息、提及记录与提及通知在同一事务中写入
	err = s.db.Transaction(func(tx *gorm.DB) error {
		txMsgRepo := storage.NewGormGroupMessageRepository(tx)
		txNotifRepo := storage.NewGormNotificationRepository(tx)

		if err := txMsgRepo.Create(ctx, msg); err != nil {
			return fmt.Errorf("保存群消息失败: %w", err)
		}

		for _, userID := range mentioned {
			mention := &models.Mention{
				MessageID:       msg.ID,
				GroupID:         groupID,
				MentionedUserID: userID,
				MentionedBy:     senderID,
			}
			if err := txMsgRepo.CreateMention(ctx, mention); err != nil {
				return fmt.Errorf("保存提及记录失败: %w", err)
			}

			notif := &models.Notification{
				UserID:     userID,
				ActorID:    senderID,
				Type:       models.NotificationMention,
				Content:    fmt.Sprintf("%s 在群组中提到了你", senderName),
				TargetID:   msg.IDString(),
				TargetType: models.TargetGroupMessage,
			}
			if err := notif.MarshalData(models.MentionData{
				GroupID:   groupID,
				MessageID: msg.ID,
				SenderID:  senderID,
			}); err != nil {
				return err
			}
			if err := txNotifRepo.Create(ctx, notif); err != nil {
				return fmt.Errorf("创建提及通知失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishDelivery(ctx, msg, members)
	return msg, nil
}

func (s *groupMessageService) senderDisplayName(ctx context.Context, senderID string) string {
	info, err := s.userRepo.GetBasicInfoByID(ctx, senderID)
	if err != nil || info == nil {
		return senderID
	}
	return info.DisplayName
}

// publishDelivery 将群消息推向发件主题，收件人为除发送者外的全部成员。
// 尽力投递：消息已落库，事件丢失时客户端下次拉历史仍能看到。
func (s *groupMessageService) publishDelivery(ctx context.Context, msg *models.GroupMessage, members []models.GroupMember) {
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != msg.SenderID {
			recipients = append(recipients, m.UserID)
		}
	}
	if len(recipients) == 0 {
		return
	}

	envelope, err := events.NewEnvelope(events.KindGroupMessage, recipients, msg)
	if err != nil {
		log.Printf("Error building delivery envelope for group message %d: %v", msg.ID, err)
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Error marshalling delivery envelope for group message %d: %v", msg.ID, err)
		return
	}
	topic := s.kafkaCfg.OutgoingTopic
	if err := s.producer.SendMessage(ctx, topic, []byte(fmt.Sprintf("group-%d", msg.GroupID)), payload); err != nil {
		log.Printf("Error producing delivery event to Kafka topic %s for group message %d: %v", topic, msg.ID, err)
	}
}

// MarkGroupMessagesDelivered 见接口说明。
func (s *groupMessageService) MarkGroupMessagesDelivered(ctx context.Context, groupID uint, userID string) error {
	if _, err := s.requireMembership(ctx, groupID, userID); err != nil {
		return err
	}
	if err := s.msgRepo.MarkDelivered(ctx, groupID, userID); err != nil {
		return fmt.Errorf("更新送达回执失败: %w", err)
	}
	return nil
}

// MarkGroupMessagesRead 见接口说明。
func (s *groupMessageService) MarkGroupMessagesRead(ctx context.Context, groupID uint, userID string) error {
	if _, err := s.requireMembership(ctx, groupID, userID); err != nil {
		return err
	}
	if err := s.msgRepo.MarkRead(ctx, groupID, userID); err != nil {
		return fmt.Errorf("更新已读回执失败: %w", err)
	}
	return nil
}

// DeleteGroupMessageForUser 见接口说明。
func (s *groupMessageService) DeleteGroupMessageForUser(ctx context.Context, messageID uint, userID string) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.requireMembership(ctx, msg.GroupID, userID); err != nil {
		return err
	}
	if !msg.DeletedFor.Add(userID) {
		return nil // 幂等
	}
	if err := s.msgRepo.Update(ctx, msg); err != nil {
		return fmt.Errorf("删除群消息 %d 失败: %w", messageID, err)
	}
	return nil
}

// DeleteGroupMessageForEveryone 见接口说明。
func (s *groupMessageService) DeleteGroupMessageForEveryone(ctx context.Context, messageID uint, userID string) (bool, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.AuthorKind != models.AuthorUser || msg.SenderID != userID {
		return false, ErrNotMessageSender
	}

	if time.Since(msg.SentAt) <= s.retention.GroupDeleteWindow {
		msg.Content = models.DeletedContentPlaceholder
		msg.MetadataRaw = nil
		// 对全部当前与未来成员隐藏：内容已替换，集合仅保留发送者自己的标记
		msg.DeletedFor.Add(userID)
		if err := s.msgRepo.Update(ctx, msg); err != nil {
			return false, fmt.Errorf("为所有人删除群消息 %d 失败: %w", messageID, err)
		}
		return true, nil
	}

	// 超出窗口：降级为仅对自己删除
	log.Printf("Delete-for-everyone degraded to delete-for-me for group message %d (user %s)", messageID, userID)
	if msg.DeletedFor.Add(userID) {
		if err := s.msgRepo.Update(ctx, msg); err != nil {
			return false, fmt.Errorf("删除群消息 %d 失败: %w", messageID, err)
		}
	}
	return false, nil
}

// GetGroupMessages 见接口说明。
func (s *groupMessageService) GetGroupMessages(ctx context.Context, groupID uint, userID string, limit, offset int) ([]models.GroupMessage, error) {
	if _, err := s.requireMembership(ctx, groupID, userID); err != nil {
		return nil, err
	}
	messages, err := s.msgRepo.GetByGroupID(ctx, groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("查询群消息失败: %w", err)
	}
	visible := messages[:0]
	for _, m := range messages {
		if m.VisibleTo(userID) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// ListMentions 见接口说明。
func (s *groupMessageService) ListMentions(ctx context.Context, userID string, unreadOnly bool) ([]models.Mention, error) {
	return s.msgRepo.GetMentionsForUser(ctx, userID, unreadOnly)
}

func (s *groupMessageService) getMessage(ctx context.Context, messageID uint) (*models.GroupMessage, error) {
	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("查询群消息 %d 失败: %w", messageID, err)
	}
	return msg, nil
}

func (s *groupMessageService) requireMembership(ctx context.Context, groupID uint, userID string) (*models.GroupMember, error) {
	member, err := s.groupRepo.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotGroupMember
		}
		return nil, fmt.Errorf("检查成员资格失败: %w", err)
	}
	return member, nil
}

// requireRoster 校验发送者资格并返回完整成员名单。
func (s *groupMessageService) requireRoster(ctx context.Context, groupID uint, senderID string) ([]models.GroupMember, error) {
	if _, err := s.requireMembership(ctx, groupID, senderID); err != nil {
		return nil, err
	}
	members, err := s.groupRepo.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("查询群组成员失败: %w", err)
	}
	return members, nil
}
