package db

import (
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/the-compact/allocator/internal/config"
	"github.com/the-compact/allocator/internal/metrics"
	"github.com/the-compact/allocator/internal/models"
)

var DB *gorm.DB

func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN
	log.Printf("Connecting to database")

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		DisableAutomaticPing:                     true,
		PrepareStmt:                              true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		log.Fatalf("Failed to connect database: %v", err)
	}
	metrics.DBConnectionStatus.Set(1)

	log.Println("database connected")

	if err := DB.AutoMigrate(
		&models.Compact{},
		&models.Element{},
		&models.Commitment{},
		&models.ConsumedNonce{},
		&models.SupportedChain{},
	); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("database schema migrated")
}
