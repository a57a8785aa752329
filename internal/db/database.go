package db

import (
	"fmt"

	"go-backend/internal/config"
	"go-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the database and migrates the schema. TranslateError is on
// so unique-constraint violations surface as gorm.ErrDuplicatedKey, which
// the idempotency paths depend on.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	database, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := Migrate(database); err != nil {
		return nil, err
	}
	return database, nil
}

// Migrate applies the schema for all persisted entities.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.PurchaseRequest{},
		&models.CustodyTransfer{},
		&models.Escrow{},
		&models.StepExecution{},
		&models.DeliveryReceipt{},
		&models.TransferRecord{},
		&models.TransporterRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
