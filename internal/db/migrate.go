package db

import (
	"adsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Credential{},
		&models.SyncRun{},
		&models.Campaign{},
		&models.Ad{},
		&models.CreativeAsset{},
		&models.AdPerformance{},
	)
}
