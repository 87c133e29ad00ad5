package models

import "time"

// UserStatus 用户在线状态。
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusAway    UserStatus = "away"
)

// User 代表系统中的用户。
// The ID is issued by the external identity provider (a uuid); this service
// never creates identities, it only bootstraps the matching profile row.
type User struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	Email       string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	DisplayName string     `gorm:"type:varchar(100);not null" json:"displayName"`
	AvatarURL   string     `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Status      UserStatus `gorm:"type:varchar(20);default:'offline'" json:"status"`
	LastActive  time.Time  `json:"lastActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// UserBasicInfo holds minimal public information about a user.
// Used for scenarios like embedding requester info in notifications.
type UserBasicInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
