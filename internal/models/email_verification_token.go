package models

import "time"

// EmailVerificationToken proves control of the address that requested a
// registration. Rows store a sha256 digest of the token; the raw value only
// appears in the emailed link. Rows are created in the same transaction as
// their owning user and are purged by maintenance after expiry, not consumed
// on use.
type EmailVerificationToken struct {
	BaseModel

	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
