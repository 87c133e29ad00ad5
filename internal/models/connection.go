package models

// ConnectionStatus 定义连接请求的状态。
type ConnectionStatus string

const (
	ConnectionStatusPending  ConnectionStatus = "pending"
	ConnectionStatusAccepted ConnectionStatus = "accepted"
	ConnectionStatusRejected ConnectionStatus = "rejected"
)

// IsTerminal reports whether the status permits no further transitions.
// Re-requesting after rejection inserts a fresh row; terminal rows are immutable.
func (s ConnectionStatus) IsTerminal() bool {
	return s == ConnectionStatusAccepted || s == ConnectionStatusRejected
}

// Connection 代表两个用户之间的配对关系（请求/接受生命周期）。
// UserLo/UserHi carry the unordered pair in canonical order so that "at most
// one active connection per pair" is a single indexed lookup regardless of who
// asked first. The partial unique index excludes terminal rejected rows, which
// stay behind as history while a fresh request is inserted alongside them; it
// is what actually enforces the one-active-row rule when two opposite-direction
// requests land at the same time.
type Connection struct {
	BaseModel
	RequesterID string           `gorm:"type:uuid;not null;index" json:"requesterId"`
	ReceiverID  string           `gorm:"type:uuid;not null;index" json:"receiverId"`
	UserLo      string           `gorm:"type:uuid;not null;uniqueIndex:idx_connection_pair_active,where:status <> 'rejected'" json:"-"`
	UserHi      string           `gorm:"type:uuid;not null;uniqueIndex:idx_connection_pair_active,where:status <> 'rejected'" json:"-"`
	Status      ConnectionStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
}

// TableName 指定 Connection 模型的表名。
func (Connection) TableName() string {
	return "connections"
}

// ConnectionWithRequester is a DTO pairing a pending request with the
// requester's public info for API responses.
type ConnectionWithRequester struct {
	Connection
	Requester *UserBasicInfo `json:"requester"`
}

// EnsureCanonicalOrder fills UserLo/UserHi from the requester/receiver pair.
// Must be called before creating a Connection record.
func (c *Connection) EnsureCanonicalOrder() {
	c.UserLo, c.UserHi = c.RequesterID, c.ReceiverID
	if c.UserLo > c.UserHi {
		c.UserLo, c.UserHi = c.UserHi, c.UserLo
	}
}
