package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatcore/internal/models"
)

// GroupMessageRepository 定义了群消息与提及数据操作的接口。
type GroupMessageRepository interface {
	Create(ctx context.Context, message *models.GroupMessage) error
	GetByID(ctx context.Context, id uint) (*models.GroupMessage, error)
	Update(ctx context.Context, message *models.GroupMessage) error
	GetByGroupID(ctx context.Context, groupID uint, limit, offset int) ([]models.GroupMessage, error)
	MarkDelivered(ctx context.Context, groupID uint, userID string) error
	MarkRead(ctx context.Context, groupID uint, userID string) error
	DeleteByGroupID(ctx context.Context, groupID uint) error

	CreateMention(ctx context.Context, mention *models.Mention) error
	GetMentionsForUser(ctx context.Context, userID string, unreadOnly bool) ([]models.Mention, error)
	DeleteMentionsByGroupID(ctx context.Context, groupID uint) error
	DeleteMentionsForUser(ctx context.Context, userID string) error
}

// gormGroupMessageRepository 使用 GORM 实现 GroupMessageRepository。
type gormGroupMessageRepository struct {
	db *gorm.DB
}

// NewGormGroupMessageRepository 创建一个新的基于 GORM 的 GroupMessageRepository。
func NewGormGroupMessageRepository(db *gorm.DB) GroupMessageRepository {
	return &gormGroupMessageRepository{db: db}
}

func (r *gormGroupMessageRepository) Create(ctx context.Context, message *models.GroupMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *gormGroupMessageRepository) GetByID(ctx context.Context, id uint) (*models.GroupMessage, error) {
	var message models.GroupMessage
	err := r.db.WithContext(ctx).First(&message, id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *gormGroupMessageRepository) Update(ctx context.Context, message *models.GroupMessage) error {
	return r.db.WithContext(ctx).Save(message).Error
}

// GetByGroupID returns the group's messages newest first. Per-viewer
// visibility filtering happens in the service; the deleted_for set is JSON
// and not practical to filter in SQL across dialects.
func (r *gormGroupMessageRepository) GetByGroupID(ctx context.Context, groupID uint, limit, offset int) ([]models.GroupMessage, error) {
	var messages []models.GroupMessage
	query := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("sent_at DESC, id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&messages).Error
	return messages, err
}

// MarkDelivered adds userID to the delivered set of every user-authored
// message in the group. System messages carry no receipts.
func (r *gormGroupMessageRepository) MarkDelivered(ctx context.Context, groupID uint, userID string) error {
	return r.markReceipts(ctx, groupID, userID, false)
}

// MarkRead adds userID to both receipt sets of every user-authored message in
// the group. 已读蕴含已送达。
func (r *gormGroupMessageRepository) MarkRead(ctx context.Context, groupID uint, userID string) error {
	return r.markReceipts(ctx, groupID, userID, true)
}

// markReceipts 在单个事务中完成回执集合的读取与写回。回执是 JSON 集合字段，
// 写回会覆盖整列，所以选中的行要先加锁，避免两个成员并发确认时互相覆盖。
func (r *gormGroupMessageRepository) markReceipts(ctx context.Context, groupID uint, userID string, read bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("group_id = ? AND author_kind = ? AND sender_id != ?", groupID, models.AuthorUser, userID)
		// sqlite 不支持 FOR UPDATE 语法，其写事务本身就是单写者串行
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var messages []models.GroupMessage
		if err := q.Find(&messages).Error; err != nil {
			return err
		}
		for i := range messages {
			msg := &messages[i]
			changed := msg.DeliveredTo.Add(userID)
			if read && msg.ReadBy.Add(userID) {
				changed = true
			}
			if !changed {
				continue
			}
			if err := tx.Save(msg).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormGroupMessageRepository) DeleteByGroupID(ctx context.Context, groupID uint) error {
	return r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Delete(&models.GroupMessage{}).Error
}

func (r *gormGroupMessageRepository) CreateMention(ctx context.Context, mention *models.Mention) error {
	return r.db.WithContext(ctx).Create(mention).Error
}

func (r *gormGroupMessageRepository) GetMentionsForUser(ctx context.Context, userID string, unreadOnly bool) ([]models.Mention, error) {
	var mentions []models.Mention
	q := r.db.WithContext(ctx).Where("mentioned_user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := q.Order("created_at DESC").Find(&mentions).Error
	return mentions, err
}

func (r *gormGroupMessageRepository) DeleteMentionsByGroupID(ctx context.Context, groupID uint) error {
	return r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Delete(&models.Mention{}).Error
}

// DeleteMentionsForUser removes every mention pointing at the user. Used by
// the account cleanup cascade.
func (r *gormGroupMessageRepository) DeleteMentionsForUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("mentioned_user_id = ?", userID).
		Delete(&models.Mention{}).Error
}
