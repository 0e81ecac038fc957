package database

import (
	"fmt"

	"collab-service/internal/models"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables backing identity resolution and
// note access checks.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Note{},
		&models.NoteShare{},
	); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}
