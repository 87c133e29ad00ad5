package models

import (
	"strconv"
	"time"
)

// BaseModel defines the common fields for all models.
// It includes an auto-incrementing ID, and CreatedAt and UpdatedAt timestamps.
// Deliberately no gorm.DeletedAt here: message visibility is tracked with
// explicit per-viewer flags, and the retention sweep removes rows for real.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IDString returns the ID as a string.
func (b *BaseModel) IDString() string {
	return strconv.FormatUint(uint64(b.ID), 10)
}

// StringSet is a JSON-serialized set of user ids.
// Stored via gorm's json serializer so it works on both postgres and sqlite.
type StringSet []string

// Contains reports whether id is in the set.
func (s StringSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id if it is not already present and reports whether it was added.
func (s *StringSet) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	*s = append(*s, id)
	return true
}
