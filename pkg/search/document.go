// Package search keeps the product index eventually consistent with the
// relational catalog. Documents are keyed by SKU id and collapsed by product
// id at query time.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

// Document is the denormalized projection of {SKU, Product, Brand,
// Categories} indexed per SKU.
type Document struct {
	SKUID         string    `json:"sku_id"`
	SKUCode       string    `json:"sku_code,omitempty"`
	ProductID     string    `json:"product_id"`
	ShopID        string    `json:"shop_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Price         int64     `json:"price"`
	Stock         int64     `json:"stock"`
	BrandID       string    `json:"brand_id,omitempty"`
	BrandName     string    `json:"brand_name,omitempty"`
	CategoryIDs   []string  `json:"category_ids,omitempty"`
	CategoryNames []string  `json:"category_names,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Flatten projects a loaded product into one document per SKU.
func Flatten(p *models.Product) []Document {
	docs := make([]Document, 0, len(p.SKUs))
	var brandID, brandName string
	if p.Brand != nil {
		brandID = p.Brand.ID
		brandName = p.Brand.Name
	}
	categoryIDs := make([]string, 0, len(p.Categories))
	categoryNames := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		categoryIDs = append(categoryIDs, c.ID)
		categoryNames = append(categoryNames, c.Name)
	}
	now := time.Now()
	for _, sku := range p.SKUs {
		docs = append(docs, Document{
			SKUID:         sku.ID,
			SKUCode:       sku.Code,
			ProductID:     p.ID,
			ShopID:        p.ShopID,
			Name:          p.Name,
			Description:   p.Description,
			Price:         sku.Price,
			Stock:         sku.Stock,
			BrandID:       brandID,
			BrandName:     brandName,
			CategoryIDs:   categoryIDs,
			CategoryNames: categoryNames,
			UpdatedAt:     now,
		})
	}
	return docs
}

// Builder loads catalog rows and flattens them into documents.
type Builder struct {
	db *gorm.DB
}

func NewBuilder(db *gorm.DB) *Builder {
	return &Builder{db: db}
}

func (b *Builder) Build(ctx context.Context, productID string) ([]Document, error) {
	docs, err := b.BuildMany(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("product %s has no indexable SKUs", productID)
	}
	return docs, nil
}

func (b *Builder) BuildMany(ctx context.Context, productIDs []string) ([]Document, error) {
	var products []models.Product
	err := b.db.WithContext(ctx).
		Preload("SKUs").
		Preload("Brand").
		Preload("Categories").
		Where("id IN ?", productIDs).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("load products for indexing: %w", err)
	}
	var docs []Document
	for i := range products {
		docs = append(docs, Flatten(&products[i])...)
	}
	return docs, nil
}

// SKUIDs returns the document ids belonging to a product, including
// soft-deleted SKUs so a product removal purges the whole family from the
// index.
func (b *Builder) SKUIDs(ctx context.Context, productID string) ([]string, error) {
	var ids []string
	err := b.db.WithContext(ctx).Unscoped().Model(&models.SKU{}).
		Where("product_id = ?", productID).
		Pluck("id", &ids).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load sku ids for product %s: %w", productID, err)
	}
	return ids, nil
}
