package database

import (
	"leakfinder/internal/database/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Identity{},
		&models.BreachRecord{},
		&models.HostFinding{},
	)
}
