package models

// User represents a registered account. Email is stored lower-cased so
// writes and lookups agree on case; Password holds the bcrypt digest and is
// never serialized.
type User struct {
	BaseModel

	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	Password      string `gorm:"not null" json:"-"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`

	Tokens   []EmailVerificationToken `gorm:"foreignKey:UserID" json:"-"`
	Sessions []Session                `gorm:"foreignKey:UserID" json:"-"`
}
