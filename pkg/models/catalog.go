package models

import (
	"time"

	"gorm.io/gorm"
)

type Product struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ShopID      string  `gorm:"type:varchar(36);index" json:"shop_id"`
	Name        string  `gorm:"type:varchar(255);not null" json:"name"`
	Description string  `gorm:"type:text" json:"description"`
	BrandID     *string `gorm:"type:varchar(36);index" json:"brand_id,omitempty"`

	Brand      *Brand     `gorm:"foreignKey:BrandID" json:"brand,omitempty"`
	SKUs       []SKU      `gorm:"foreignKey:ProductID" json:"skus,omitempty"`
	Categories []Category `gorm:"many2many:product_categories" json:"categories,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Product) TableName() string {
	return "products"
}

type SKU struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProductID string `gorm:"type:varchar(36);not null;index" json:"product_id"`
	Code      string `gorm:"type:varchar(64)" json:"code"`
	Price     int64  `gorm:"not null" json:"price"`
	// Stock never goes negative: decrements are guarded, and every decrement
	// has a matching compensation path on cancellation or failure.
	Stock int64 `gorm:"not null;default:0" json:"stock"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (SKU) TableName() string {
	return "skus"
}

type Brand struct {
	ID   string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name string `gorm:"type:varchar(255);not null" json:"name"`
}

func (Brand) TableName() string {
	return "brands"
}

type Category struct {
	ID   string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name string `gorm:"type:varchar(255);not null" json:"name"`
}

func (Category) TableName() string {
	return "categories"
}
