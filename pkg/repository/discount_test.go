package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/fulfillment/pkg/models"
)

func activeDiscount(id, code string) models.Discount {
	now := time.Now()
	return models.Discount{
		ID:      id,
		Code:    code,
		Status:  models.DiscountActive,
		Type:    models.DiscountFixed,
		Value:   10_000,
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
	}
}

func TestFindByCodesExcludesSoftDeleted(t *testing.T) {
	db := newTestDB(t)
	repo := NewDiscountRepository(db)

	live := activeDiscount("d1", "LIVE")
	require.NoError(t, db.Create(&live).Error)

	// Otherwise valid in every way, but soft-deleted.
	dead := activeDiscount("d2", "DEAD")
	dead.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	require.NoError(t, db.Create(&dead).Error)

	found, err := repo.FindByCodes(context.Background(), []string{"LIVE", "DEAD"}, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "LIVE", found[0].Code)
}

func TestFindByCodesFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewDiscountRepository(db)
	now := time.Now()

	inactive := activeDiscount("d1", "INACTIVE")
	inactive.Status = models.DiscountInactive
	expired := activeDiscount("d2", "EXPIRED")
	expired.StartAt = now.Add(-2 * time.Hour)
	expired.EndAt = now.Add(-time.Hour)
	platform := activeDiscount("d3", "PLAT")
	platform.IsPlatform = true
	ok := activeDiscount("d4", "OK")

	for _, d := range []models.Discount{inactive, expired, platform, ok} {
		d := d
		require.NoError(t, db.Create(&d).Error)
	}

	found, err := repo.FindByCodes(context.Background(),
		[]string{"INACTIVE", "EXPIRED", "PLAT", "OK"}, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "OK", found[0].Code)

	// Platform scope returns only the platform voucher.
	found, err = repo.FindByCodes(context.Background(),
		[]string{"INACTIVE", "EXPIRED", "PLAT", "OK"}, true)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "PLAT", found[0].Code)
}

func TestCreateSnapshotEnforcesMaxUses(t *testing.T) {
	db := newTestDB(t)
	repo := NewDiscountRepository(db)

	d := activeDiscount("d1", "LIMITED")
	d.MaxUses = 2
	require.NoError(t, db.Create(&d).Error)

	snap := func(order string) *models.DiscountSnapshot {
		return &models.DiscountSnapshot{
			DiscountID: "d1", OrderID: order, UserID: "u1",
			Code: "LIMITED", Amount: 10_000,
		}
	}

	require.NoError(t, repo.CreateSnapshot(context.Background(), snap("o1")))
	require.NoError(t, repo.CreateSnapshot(context.Background(), snap("o2")))

	err := repo.CreateSnapshot(context.Background(), snap("o3"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUsageExhausted))

	// The rejected snapshot must not have been written.
	used, err := repo.UserUsage(context.Background(), "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)
}
