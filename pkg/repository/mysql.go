package repository

import (
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/config"
	"github.com/example/fulfillment/pkg/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrAlreadyFinal   = errors.New("payment already in a terminal status")
	ErrInvalidState   = errors.New("invalid state for this operation")
	ErrNotEnoughStock = errors.New("not enough stock")
	ErrUsageExhausted = errors.New("discount usage exhausted")
)

// Open connects to MySQL and migrates the fulfillment schema.
func Open(cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.OrderShipping{},
		&models.Discount{},
		&models.DiscountSnapshot{},
		&models.Product{},
		&models.SKU{},
		&models.Brand{},
		&models.Category{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}
