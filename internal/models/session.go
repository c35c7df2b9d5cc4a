package models

import "time"

// Session maps an opaque cookie value to a signed-in user. Like verification
// tokens, only a digest of the session key is persisted.
type Session struct {
	BaseModel

	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
