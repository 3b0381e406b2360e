package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

// newTestDB opens an in-memory sqlite database with the full schema. A single
// connection is forced so every query sees the same :memory: database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
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
	))
	return db
}

func skuStock(t *testing.T, db *gorm.DB, skuID string) int64 {
	t.Helper()
	var sku models.SKU
	require.NoError(t, db.Where("id = ?", skuID).First(&sku).Error)
	return sku.Stock
}
