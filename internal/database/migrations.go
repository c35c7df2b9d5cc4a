package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.EmailVerificationToken{},
		&models.Session{},
		&models.CacheEntry{},
	)
}

// Migrate is a convenience helper used during application start-up.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	return nil
}
