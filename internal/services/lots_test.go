package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"parking-reservations/internal/database"
	"parking-reservations/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateLotCreatesSpotPool(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()

	lot := createTestLot(t, lots, 3, 2.50)

	var spots []models.ParkingSpot
	require.NoError(t, database.DB.Where("lot_id = ?", lot.ID).Order("sequence ASC").Find(&spots).Error)
	require.Len(t, spots, 3)

	for i, spot := range spots {
		assert.Equal(t, i+1, spot.Sequence)
		assert.Equal(t, fmt.Sprintf("S%03d", i+1), spot.SpotNumber)
		assert.Equal(t, models.SpotAvailable, spot.Status)
	}
}

func TestCountByStatusSumsToSpotCount(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 5, 2.50)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S002").ID, models.SpotReserved)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S004").ID, models.SpotOccupied)

	counts, err := lots.CountByStatus(ctx, lot.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, counts.Available)
	assert.Equal(t, 1, counts.Reserved)
	assert.Equal(t, 1, counts.Occupied)
	assert.Equal(t, 5, counts.Total())
}

func TestNextAvailablePicksLowestSequence(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 3, 2.50)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S002").ID, models.SpotOccupied)

	spot, err := lots.NextAvailable(ctx, database.DB, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "S001", spot.SpotNumber)

	setSpotStatus(t, spotByLabel(t, lot.ID, "S001").ID, models.SpotReserved)

	spot, err = lots.NextAvailable(ctx, database.DB, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "S003", spot.SpotNumber)
}

func TestNextAvailableNoCapacity(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S001").ID, models.SpotOccupied)

	_, err := lots.NextAvailable(ctx, database.DB, lot.ID)
	assert.True(t, errors.Is(err, ErrNoCapacity))
}

func TestResizeGrowContinuesSequence(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)

	newCap := 4
	updated, err := lots.Update(ctx, lot.ID, UpdateLotInput{MaxSpots: &newCap})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.MaxSpots)

	var spots []models.ParkingSpot
	require.NoError(t, database.DB.Where("lot_id = ?", lot.ID).Order("sequence ASC").Find(&spots).Error)
	require.Len(t, spots, 4)
	assert.Equal(t, "S003", spots[2].SpotNumber)
	assert.Equal(t, "S004", spots[3].SpotNumber)
	assert.Equal(t, models.SpotAvailable, spots[3].Status)
}

func TestResizeShrinkRemovesHighestAvailableFirst(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 4, 2.50)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S004").ID, models.SpotOccupied)

	newCap := 2
	_, err := lots.Update(ctx, lot.ID, UpdateLotInput{MaxSpots: &newCap})
	require.NoError(t, err)

	var spots []models.ParkingSpot
	require.NoError(t, database.DB.Where("lot_id = ?", lot.ID).Order("sequence ASC").Find(&spots).Error)
	require.Len(t, spots, 2)

	// S002 and S003 go; the occupied S004 is untouched.
	assert.Equal(t, "S001", spots[0].SpotNumber)
	assert.Equal(t, "S004", spots[1].SpotNumber)
	assert.Equal(t, models.SpotOccupied, spots[1].Status)
}

func TestResizeShrinkInsufficientAvailableIsAllOrNothing(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 3, 2.50)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S001").ID, models.SpotOccupied)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S002").ID, models.SpotReserved)

	newCap := 1
	_, err := lots.Update(ctx, lot.ID, UpdateLotInput{MaxSpots: &newCap})
	assert.True(t, errors.Is(err, ErrInsufficientAvailableSpots))

	var count int64
	require.NoError(t, database.DB.Model(&models.ParkingSpot{}).Where("lot_id = ?", lot.ID).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var fresh models.ParkingLot
	require.NoError(t, database.DB.First(&fresh, lot.ID).Error)
	assert.Equal(t, 3, fresh.MaxSpots)
}

func TestResizeShrinkSparesSpotReservedMidFlight(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 3, 2.50)

	// A rival allocation reserves S003 between the removable-spot select and
	// the delete; the guarded delete then removes too few rows and the whole
	// shrink rolls back instead of touching the now-reserved spot.
	steals := 1
	require.NoError(t, database.DB.Callback().Query().After("gorm:query").
		Register("test:steal_removable", func(tx *gorm.DB) {
			spots, ok := tx.Statement.Dest.(*[]models.ParkingSpot)
			if !ok || steals == 0 || len(*spots) == 0 {
				return
			}
			steals--
			tx.Session(&gorm.Session{NewDB: true}).
				Model(&models.ParkingSpot{}).
				Where("id = ?", (*spots)[0].ID).
				Update("status", models.SpotReserved)
		}))
	t.Cleanup(func() {
		require.NoError(t, database.DB.Callback().Query().Remove("test:steal_removable"))
	})

	newCap := 2
	_, err := lots.Update(ctx, lot.ID, UpdateLotInput{MaxSpots: &newCap})
	assert.True(t, errors.Is(err, ErrInsufficientAvailableSpots))
	assert.Equal(t, 0, steals)

	var count int64
	require.NoError(t, database.DB.Model(&models.ParkingSpot{}).Where("lot_id = ?", lot.ID).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var fresh models.ParkingLot
	require.NoError(t, database.DB.First(&fresh, lot.ID).Error)
	assert.Equal(t, 3, fresh.MaxSpots)
}

func TestResizeRejectsZeroCapacity(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)

	newCap := 0
	_, err := lots.Update(ctx, lot.ID, UpdateLotInput{MaxSpots: &newCap})
	assert.True(t, errors.Is(err, ErrInvalidCapacity))
}

func TestDeleteLotBlockedWhileSpotsInUse(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)
	setSpotStatus(t, spotByLabel(t, lot.ID, "S001").ID, models.SpotOccupied)

	err := lots.Delete(ctx, lot.ID)
	assert.True(t, errors.Is(err, ErrLotNotEmpty))

	var count int64
	require.NoError(t, database.DB.Model(&models.ParkingSpot{}).Where("lot_id = ?", lot.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	require.NoError(t, database.DB.First(&models.ParkingLot{}, lot.ID).Error)
}

func TestDeleteLotRemovesSpots(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)

	require.NoError(t, lots.Delete(ctx, lot.ID))

	var count int64
	require.NoError(t, database.DB.Model(&models.ParkingSpot{}).Where("lot_id = ?", lot.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	err := lots.Delete(ctx, lot.ID)
	assert.True(t, errors.Is(err, ErrLotNotFound))
}

func TestSearchSpotsIncludesOccupant(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)
	user := createTestUser(t, "daphne")

	_, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	results, err := lots.SearchSpots(ctx, SpotSearchInput{SpotNumber: "S001"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Reserved", results[0].Status)
	assert.Equal(t, "daphne", results[0].Occupant)
	assert.NotNil(t, results[0].ParkedSince)
	assert.Equal(t, "Central Garage", results[0].LotName)
}
