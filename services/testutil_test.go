package services

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trustgraph/models"
)

// setupTestDB öffnet eine frische In-Memory-Datenbank pro Test.
// MaxOpenConns(1), damit alle Queries dieselbe sqlite-Verbindung sehen.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Claim{}, &models.Node{}, &models.Edge{},
		&models.UriEntity{}, &models.Credential{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

// mustCreateClaim legt einen Claim mit effectiveDate jetzt an.
func mustCreateClaim(t *testing.T, db *gorm.DB, claim models.Claim) models.Claim {
	t.Helper()
	if claim.EffectiveDate == nil {
		now := time.Now()
		claim.EffectiveDate = &now
	}
	if err := db.Create(&claim).Error; err != nil {
		t.Fatalf("create claim: %v", err)
	}
	return claim
}

func mustCount(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}
