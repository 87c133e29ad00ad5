package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"chatcore/internal/models"
)

// DirectMessageRepository 定义了一对一消息数据操作的接口。
type DirectMessageRepository interface {
	Create(ctx context.Context, message *models.DirectMessage) error
	GetByID(ctx context.Context, id uint) (*models.DirectMessage, error)
	Update(ctx context.Context, message *models.DirectMessage) error
	GetConversation(ctx context.Context, viewerID, otherID string, limit, offset int) ([]models.DirectMessage, error)
	MarkDelivered(ctx context.Context, receiverID, senderID string, at time.Time) error
	MarkRead(ctx context.Context, receiverID, senderID string, at time.Time) error
	DeleteFullyDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) error
}

// gormDirectMessageRepository 使用 GORM 实现 DirectMessageRepository。
type gormDirectMessageRepository struct {
	db *gorm.DB
}

// NewGormDirectMessageRepository 创建一个新的基于 GORM 的 DirectMessageRepository。
func NewGormDirectMessageRepository(db *gorm.DB) DirectMessageRepository {
	return &gormDirectMessageRepository{db: db}
}

func (r *gormDirectMessageRepository) Create(ctx context.Context, message *models.DirectMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *gormDirectMessageRepository) GetByID(ctx context.Context, id uint) (*models.DirectMessage, error) {
	var message models.DirectMessage
	err := r.db.WithContext(ctx).First(&message, id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *gormDirectMessageRepository) Update(ctx context.Context, message *models.DirectMessage) error {
	return r.db.WithContext(ctx).Save(message).Error
}

// GetConversation returns the messages between two users that are still
// visible to the viewer, newest first.
func (r *gormDirectMessageRepository) GetConversation(ctx context.Context, viewerID, otherID string, limit, offset int) ([]models.DirectMessage, error) {
	var messages []models.DirectMessage
	query := r.db.WithContext(ctx).
		Where("deleted_for_everyone = ?", false).
		Where(
			r.db.Where("sender_id = ? AND receiver_id = ? AND deleted_for_sender = ?", viewerID, otherID, false).
				Or("sender_id = ? AND receiver_id = ? AND deleted_for_receiver = ?", otherID, viewerID, false),
		).
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

// MarkDelivered stamps delivered_at on every undelivered message from sender
// to receiver. Re-marking is a no-op thanks to the IS NULL guard.
func (r *gormDirectMessageRepository) MarkDelivered(ctx context.Context, receiverID, senderID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("receiver_id = ? AND sender_id = ? AND delivered_at IS NULL", receiverID, senderID).
		Update("delivered_at", at).Error
}

// MarkRead stamps read_at, and delivered_at where missing (read implies
// delivered).
func (r *gormDirectMessageRepository) MarkRead(ctx context.Context, receiverID, senderID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("receiver_id = ? AND sender_id = ? AND delivered_at IS NULL", receiverID, senderID).
		Update("delivered_at", at).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("receiver_id = ? AND sender_id = ? AND read_at IS NULL", receiverID, senderID).
		Update("read_at", at).Error
}

// DeleteFullyDeletedBefore hard-deletes rows that nobody can see anymore and
// that are older than the cutoff: deleted for everyone, or deleted by both
// parties. Idempotent; a re-run simply matches whatever is left.
func (r *gormDirectMessageRepository) DeleteFullyDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("sent_at < ?", cutoff).
		Where(
			r.db.Where("deleted_for_everyone = ?", true).
				Or("deleted_for_sender = ? AND deleted_for_receiver = ?", true, true),
		).
		Delete(&models.DirectMessage{})
	return result.RowsAffected, result.Error
}

// DeleteAllForUser removes every message the user sent or received. Used by
// the account cleanup cascade.
func (r *gormDirectMessageRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Delete(&models.DirectMessage{}).Error
}
