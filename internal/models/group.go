package models

import (
	"strings"
	"time"
)

// Group 代表一个聊天群组。
// NameKey is the lowercased name backing the case-insensitive uniqueness rule
// ("Team" and "team" are the same group name).
type Group struct {
	BaseModel
	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	NameKey     string `gorm:"type:varchar(100);uniqueIndex;not null" json:"-"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	AvatarURL   string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	CreatedBy   string `gorm:"type:uuid;not null;index" json:"createdBy"` // 群主，始终是当前成员

	// 关联关系
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// TableName 指定 Group 模型的表名。
func (Group) TableName() string {
	return "groups"
}

// NormalizeName fills NameKey from Name. Must be called before create/rename.
func (g *Group) NormalizeName() {
	g.NameKey = NormalizeGroupName(g.Name)
}

// NormalizeGroupName lowers and trims a group name for uniqueness comparison.
func NormalizeGroupName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GroupMemberRole 定义了用户在群组中的角色。
type GroupMemberRole string

const (
	AdminRole  GroupMemberRole = "admin"
	MemberRole GroupMemberRole = "member"
)

// GroupMember 将用户链接到群组并定义其角色。
type GroupMember struct {
	BaseModel
	GroupID  uint            `gorm:"not null;uniqueIndex:idx_group_user" json:"groupId"`
	UserID   string          `gorm:"type:uuid;not null;uniqueIndex:idx_group_user" json:"userId"`
	Role     GroupMemberRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	JoinedAt time.Time       `json:"joinedAt"`

	// 关联关系
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 指定 GroupMember 模型的表名。
func (GroupMember) TableName() string {
	return "group_members"
}
