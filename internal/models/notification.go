package models

import "encoding/json"

// NotificationType 定义通知类型。
type NotificationType string

const (
	NotificationConnectionRequest NotificationType = "connection_request"
	NotificationMessage           NotificationType = "message"
	NotificationGeneral           NotificationType = "general"
	NotificationMention           NotificationType = "mention"
	NotificationGroupInvite       NotificationType = "group_invite"
)

// GroupInviteMode is the discriminant carried in a group_invite payload.
const (
	InviteAutoAdded          = "auto_added"
	InviteRequiresAcceptance = "requires_acceptance"
)

// TargetType values for Notification.TargetID.
const (
	TargetConnection   = "connection"
	TargetGroup        = "group"
	TargetGroupMessage = "group_message"
)

// Notification 代表派生给某个用户的通知。
// Notifications are always a side effect of another mutation, never created
// directly by an end user. TargetID/TargetType point at the triggering entity
// so a notification can be found and amended later (e.g. the connection
// request notification is updated in place when the request is resolved).
type Notification struct {
	BaseModel
	UserID     string           `gorm:"type:uuid;not null;index" json:"userId"`
	ActorID    string           `gorm:"type:uuid;index" json:"actorId,omitempty"`
	Type       NotificationType `gorm:"type:varchar(30);not null;index" json:"type"`
	Content    string           `gorm:"type:text" json:"content"`
	IsRead     bool             `gorm:"not null;default:false;index" json:"isRead"`
	TargetID   string           `gorm:"type:varchar(64);index" json:"targetId,omitempty"`
	TargetType string           `gorm:"type:varchar(20)" json:"targetType,omitempty"`
	Data       json.RawMessage  `gorm:"type:text" json:"data,omitempty"`
}

// TableName 指定 Notification 模型的表名。
func (Notification) TableName() string {
	return "notifications"
}

// ConnectionRequestData is the payload of a connection_request notification.
// Status is stamped when the receiver resolves the request.
type ConnectionRequestData struct {
	RequesterID  string `json:"requesterId"`
	ConnectionID uint   `json:"connectionId"`
	Status       string `json:"status,omitempty"`
}

// MentionData is the payload of a mention notification.
type MentionData struct {
	GroupID   uint   `json:"groupId"`
	MessageID uint   `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// GroupInviteData is the payload of a group_invite notification.
// Mode is auto_added when the target was added immediately (actor and target
// share an accepted connection) and requires_acceptance otherwise. Status is
// stamped when a pending invite is accepted or rejected.
type GroupInviteData struct {
	GroupID   uint   `json:"groupId"`
	GroupName string `json:"groupName"`
	InvitedBy string `json:"invitedBy"`
	Mode      string `json:"mode"`
	Status    string `json:"status,omitempty"`
}

// MarshalData serializes a payload into Notification.Data.
func (n *Notification) MarshalData(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n.Data = raw
	return nil
}
