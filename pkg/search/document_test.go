package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fulfillment/pkg/models"
)

func TestFlattenOneDocumentPerSKU(t *testing.T) {
	p := &models.Product{
		ID:          "p1",
		ShopID:      "s1",
		Name:        "Running Shoe",
		Description: "Lightweight",
		Brand:       &models.Brand{ID: "b1", Name: "Nike"},
		Categories: []models.Category{
			{ID: "c1", Name: "Shoes"},
			{ID: "c2", Name: "Sport"},
		},
		SKUs: []models.SKU{
			{ID: "sku1", Code: "RS-40", Price: 1_200_000, Stock: 5},
			{ID: "sku2", Code: "RS-41", Price: 1_250_000, Stock: 0},
		},
	}

	docs := Flatten(p)
	require.Len(t, docs, 2)

	assert.Equal(t, "sku1", docs[0].SKUID)
	assert.Equal(t, "RS-40", docs[0].SKUCode)
	assert.Equal(t, "p1", docs[0].ProductID)
	assert.Equal(t, "s1", docs[0].ShopID)
	assert.Equal(t, "Running Shoe", docs[0].Name)
	assert.Equal(t, int64(1_200_000), docs[0].Price)
	assert.Equal(t, "Nike", docs[0].BrandName)
	assert.Equal(t, []string{"c1", "c2"}, docs[0].CategoryIDs)
	assert.Equal(t, []string{"Shoes", "Sport"}, docs[0].CategoryNames)

	// Out-of-stock SKUs still get indexed; availability is a query-time filter.
	assert.Equal(t, int64(0), docs[1].Stock)
}

func TestFlattenWithoutBrandOrCategories(t *testing.T) {
	p := &models.Product{
		ID: "p1", ShopID: "s1", Name: "Plain",
		SKUs: []models.SKU{{ID: "sku1", Price: 1000}},
	}
	docs := Flatten(p)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].BrandID)
	assert.Empty(t, docs[0].BrandName)
	assert.Empty(t, docs[0].CategoryIDs)
}

func TestFlattenNoSKUs(t *testing.T) {
	assert.Empty(t, Flatten(&models.Product{ID: "p1"}))
}
