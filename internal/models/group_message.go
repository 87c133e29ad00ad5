package models

import (
	"encoding/json"
	"time"
)

// AuthorKind distinguishes member-authored messages from system-generated ones
// (membership changes, renames). An explicit tag instead of a magic sender id.
type AuthorKind string

const (
	AuthorUser   AuthorKind = "user"
	AuthorSystem AuthorKind = "system"
)

// GroupMessage 代表群组内的消息。
// Soft deletion is per viewer: a message is visible to a member iff their id
// is absent from DeletedFor. DeliveredTo/ReadBy are per-member receipt sets.
type GroupMessage struct {
	BaseModel
	GroupID    uint        `gorm:"not null;index" json:"groupId"`
	SenderID   string      `gorm:"type:uuid;index" json:"senderId,omitempty"` // system 消息为空
	AuthorKind AuthorKind  `gorm:"type:varchar(10);not null;default:'user'" json:"authorKind"`
	Content    string      `gorm:"type:text" json:"content"`
	Type       MessageType `gorm:"type:varchar(20);not null;default:'text'" json:"type"`
	SentAt     time.Time   `gorm:"not null;index" json:"sentAt"`

	DeletedFor     StringSet `gorm:"serializer:json" json:"-"`
	MentionedUsers StringSet `gorm:"serializer:json" json:"mentionedUsers,omitempty"`
	DeliveredTo    StringSet `gorm:"serializer:json" json:"-"`
	ReadBy         StringSet `gorm:"serializer:json" json:"-"`

	MetadataRaw json.RawMessage `gorm:"type:text" json:"metadata,omitempty"`
}

// TableName 指定 GroupMessage 模型的表名。
func (GroupMessage) TableName() string {
	return "group_messages"
}

// VisibleTo reports whether the message may be rendered for userID.
func (m *GroupMessage) VisibleTo(userID string) bool {
	return !m.DeletedFor.Contains(userID)
}

// Mention 是群消息对特定成员的结构化引用，驱动派生通知。
type Mention struct {
	BaseModel
	MessageID       uint   `gorm:"not null;index" json:"messageId"`
	GroupID         uint   `gorm:"not null;index" json:"groupId"`
	MentionedUserID string `gorm:"type:uuid;not null;index" json:"mentionedUserId"`
	MentionedBy     string `gorm:"type:uuid;not null" json:"mentionedBy"`
	IsRead          bool   `gorm:"not null;default:false" json:"isRead"`
}

// TableName 指定 Mention 模型的表名。
func (Mention) TableName() string {
	return "mentions"
}
