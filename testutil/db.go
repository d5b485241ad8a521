package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/striderapp/housepoints/models"
)

// OpenTestDB opens an in-memory SQLite database and migrates every table.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	// Every pooled connection would otherwise get its own :memory: database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.HouseScore{},
		&models.StepSample{},
		&models.AwardLog{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	return db
}
