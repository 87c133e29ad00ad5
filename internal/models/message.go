package models

import (
	"encoding/json"
	"time"
)

// MessageType 定义了存储在数据库中的消息类型。
type MessageType string

const (
	TextMessageType  MessageType = "text"
	ImageMessageType MessageType = "image"
	FileMessageType  MessageType = "file"
)

// DeletedContentPlaceholder is what clients render in place of a message that
// was deleted for everyone.
const DeletedContentPlaceholder = "此消息已被删除"

// DirectMessage 代表两个用户之间的一对一消息。
// The three deletion flags are independent: a message is visible to a party
// iff DeletedForEveryone is false and that party's own flag is false.
type DirectMessage struct {
	BaseModel
	SenderID   string      `gorm:"type:uuid;not null;index:idx_dm_pair" json:"senderId"`
	ReceiverID string      `gorm:"type:uuid;not null;index:idx_dm_pair" json:"receiverId"`
	Content    string      `gorm:"type:text" json:"content"`
	Type       MessageType `gorm:"type:varchar(20);not null;default:'text'" json:"type"`
	SentAt     time.Time   `gorm:"not null;index" json:"sentAt"`

	DeletedForSender   bool `gorm:"not null;default:false" json:"deletedForSender"`
	DeletedForReceiver bool `gorm:"not null;default:false" json:"deletedForReceiver"`
	DeletedForEveryone bool `gorm:"not null;default:false" json:"deletedForEveryone"`

	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`

	// MetadataRaw stores file/image metadata as JSON (name, size, mime, url).
	MetadataRaw json.RawMessage `gorm:"type:text" json:"metadata,omitempty"`
}

// TableName 指定 DirectMessage 模型的表名。
func (DirectMessage) TableName() string {
	return "direct_messages"
}

// VisibleTo reports whether the message may be rendered for userID.
func (m *DirectMessage) VisibleTo(userID string) bool {
	if m.DeletedForEveryone {
		return false
	}
	switch userID {
	case m.SenderID:
		return !m.DeletedForSender
	case m.ReceiverID:
		return !m.DeletedForReceiver
	default:
		return false
	}
}

// FileMetadata stores metadata for file and image messages.
// Marshaled into DirectMessage.MetadataRaw / GroupMessage.MetadataRaw.
type FileMetadata struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// GetFileMetadata unmarshals MetadataRaw, returning nil when absent.
func (m *DirectMessage) GetFileMetadata() (*FileMetadata, error) {
	if len(m.MetadataRaw) == 0 {
		return nil, nil
	}
	var meta FileMetadata
	if err := json.Unmarshal(m.MetadataRaw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
