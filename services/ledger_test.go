package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/testutil"
)

func TestHouseLedgerIncrementAndReset(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ledger := NewHouseLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.Seed(ctx))
	// Seeding twice must not duplicate rows.
	require.NoError(t, ledger.Seed(ctx))

	var count int64
	require.NoError(t, db.Model(&models.HouseScore{}).Count(&count).Error)
	require.EqualValues(t, len(models.Houses()), count)

	require.NoError(t, ledger.Increment(ctx, models.HouseRed, 7))
	points, err := ledger.Points(ctx, models.HouseRed)
	require.NoError(t, err)
	require.EqualValues(t, 7, points)

	require.NoError(t, ledger.Reset(ctx, models.HouseRed))
	points, err = ledger.Points(ctx, models.HouseRed)
	require.NoError(t, err)
	require.EqualValues(t, 0, points)
}

func TestHouseLedgerRejectsBadInput(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ledger := NewHouseLedger(db)
	ctx := context.Background()
	require.NoError(t, ledger.Seed(ctx))

	require.Error(t, ledger.Increment(ctx, models.HouseBlue, 0))
	require.Error(t, ledger.Increment(ctx, models.HouseBlue, -5))
	require.ErrorIs(t, ledger.Increment(ctx, models.House("purple"), 3), ErrInvalidHouse)
	require.ErrorIs(t, ledger.Reset(ctx, models.House("purple")), ErrInvalidHouse)

	// Rejected calls must leave the ledger untouched.
	points, err := ledger.Points(ctx, models.HouseBlue)
	require.NoError(t, err)
	require.EqualValues(t, 0, points)
}

func TestHouseLedgerConcurrentIncrements(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ledger := NewHouseLedger(db)
	ctx := context.Background()
	require.NoError(t, ledger.Seed(ctx))
	require.NoError(t, ledger.Increment(ctx, models.HouseGreen, 10))

	var wg sync.WaitGroup
	for _, delta := range []int{3, 5} {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			if err := ledger.Increment(ctx, models.HouseGreen, d); err != nil {
				t.Errorf("concurrent increment %d: %v", d, err)
			}
		}(delta)
	}
	wg.Wait()

	points, err := ledger.Points(ctx, models.HouseGreen)
	require.NoError(t, err)
	require.EqualValues(t, 18, points, "in-database add must not lose concurrent updates")
}

func TestHouseLedgerLeaderboardRanks(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ledger := NewHouseLedger(db)
	ctx := context.Background()
	require.NoError(t, ledger.Seed(ctx))

	require.NoError(t, ledger.Increment(ctx, models.HouseRed, 30))
	require.NoError(t, ledger.Increment(ctx, models.HouseBlue, 30))
	require.NoError(t, ledger.Increment(ctx, models.HouseGreen, 10))

	entries, err := ledger.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, entries, len(models.Houses()))

	// Blue and red tie for first; green is third; the rest tie for fourth.
	require.Equal(t, models.HouseBlue, entries[0].House)
	require.Equal(t, 1, entries[0].Rank)
	require.Equal(t, models.HouseRed, entries[1].House)
	require.Equal(t, 1, entries[1].Rank)
	require.Equal(t, models.HouseGreen, entries[2].House)
	require.Equal(t, 3, entries[2].Rank)
	require.Equal(t, 4, entries[3].Rank)
	require.Equal(t, 4, entries[4].Rank)
}
