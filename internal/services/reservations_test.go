package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"parking-reservations/internal/database"
	"parking-reservations/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stealSpotOnRead registers a query callback that flips a spot to Reserved the
// moment it is read while Available, standing in for a rival allocation that
// lands between the spot pick and the guarded status update. At most n steals.
func stealSpotOnRead(t *testing.T, n *int) {
	t.Helper()

	require.NoError(t, database.DB.Callback().Query().After("gorm:query").
		Register("test:steal_spot", func(tx *gorm.DB) {
			spot, ok := tx.Statement.Dest.(*models.ParkingSpot)
			if !ok || *n == 0 || spot.ID == 0 || spot.Status != models.SpotAvailable {
				return
			}
			*n--
			tx.Session(&gorm.Session{NewDB: true}).
				Model(&models.ParkingSpot{}).
				Where("id = ?", spot.ID).
				Update("status", models.SpotReserved)
		}))
	t.Cleanup(func() {
		require.NoError(t, database.DB.Callback().Query().Remove("test:steal_spot"))
	})
}

func TestAllocateReservesLowestSpot(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 3, 2.50)
	user := createTestUser(t, "alex")

	reservation, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	assert.Equal(t, "S001", reservation.Spot.SpotNumber)
	assert.Equal(t, models.SpotReserved, reservation.Spot.Status)
	assert.Equal(t, 2.50, reservation.PricePerHour)
	assert.True(t, reservation.IsOpen())
	assert.Nil(t, reservation.TotalCost)

	var open int64
	require.NoError(t, database.DB.Model(&models.Reservation{}).
		Where("user_id = ? AND leaving_timestamp IS NULL", user.ID).
		Count(&open).Error)
	assert.Equal(t, int64(1), open)
}

func TestAllocateTwiceFailsAlreadyReserved(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 3, 2.50)
	user := createTestUser(t, "alex")

	_, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	_, err = reservations.Allocate(ctx, user.ID, lot.ID)
	assert.True(t, errors.Is(err, ErrAlreadyReserved))

	// No second reservation, no extra spot flipped.
	var total int64
	require.NoError(t, database.DB.Model(&models.Reservation{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)

	counts, err := lots.CountByStatus(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Reserved)
	assert.Equal(t, 2, counts.Available)
}

func TestAllocateRetriesOnceAfterLostSpotRace(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)
	user := createTestUser(t, "alex")

	// The first attempt loses its spot mid-transaction and rolls back; the
	// retry finds the pool intact and wins.
	steals := 1
	stealSpotOnRead(t, &steals)

	reservation, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, steals)
	assert.Equal(t, "S001", reservation.Spot.SpotNumber)
	assert.Equal(t, models.SpotReserved, reservation.Spot.Status)

	var total int64
	require.NoError(t, database.DB.Model(&models.Reservation{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestAllocateConflictAfterRetryExhausted(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)
	user := createTestUser(t, "alex")

	// Both the first attempt and the single retry lose their spot.
	steals := 2
	stealSpotOnRead(t, &steals)

	_, err := reservations.Allocate(ctx, user.ID, lot.ID)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, 0, steals)

	// Both transactions rolled back whole: no reservation, no flipped spot.
	var total int64
	require.NoError(t, database.DB.Model(&models.Reservation{}).Count(&total).Error)
	assert.Equal(t, int64(0), total)

	counts, err := lots.CountByStatus(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Available)
}

func TestAllocateFailsWhenLotFull(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	first := createTestUser(t, "alex")
	second := createTestUser(t, "blair")

	_, err := reservations.Allocate(ctx, first.ID, lot.ID)
	require.NoError(t, err)

	_, err = reservations.Allocate(ctx, second.ID, lot.ID)
	assert.True(t, errors.Is(err, ErrNoCapacity))

	counts, err := lots.CountByStatus(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Reserved)
}

func TestAllocateUnknownLot(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)

	user := createTestUser(t, "alex")

	_, err := reservations.Allocate(context.Background(), user.ID, 999)
	assert.True(t, errors.Is(err, ErrLotNotFound))
}

func TestMarkParkedOccupiesSpot(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	user := createTestUser(t, "alex")

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	parked, err := reservations.MarkParked(ctx, user.ID, allocated.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SpotOccupied, parked.Spot.Status)
	assert.True(t, parked.IsOpen())

	// A second confirmation is rejected, not silently accepted.
	_, err = reservations.MarkParked(ctx, user.ID, allocated.ID)
	assert.True(t, errors.Is(err, ErrReservationNotFound))
}

func TestMarkParkedWrongUser(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	owner := createTestUser(t, "alex")
	other := createTestUser(t, "blair")

	allocated, err := reservations.Allocate(ctx, owner.ID, lot.ID)
	require.NoError(t, err)

	_, err = reservations.MarkParked(ctx, other.ID, allocated.ID)
	assert.True(t, errors.Is(err, ErrReservationNotFound))
}

func TestReleaseComputesCost(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	user := createTestUser(t, "alex")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	reservations.now = func() time.Time { return start }

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	_, err = reservations.MarkParked(ctx, user.ID, allocated.ID)
	require.NoError(t, err)

	reservations.now = func() time.Time { return start.Add(2*time.Hour + 30*time.Minute) }

	released, err := reservations.Release(ctx, user.ID, allocated.ID)
	require.NoError(t, err)

	require.NotNil(t, released.TotalCost)
	assert.Equal(t, 6.25, *released.TotalCost)
	require.NotNil(t, released.LeavingTimestamp)
	assert.Equal(t, models.SpotAvailable, released.Spot.Status)
}

func TestReleaseWithoutParkingConfirmation(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 4.00)
	user := createTestUser(t, "alex")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	reservations.now = func() time.Time { return start }

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	// Billing runs from allocation even when the vehicle never parked.
	reservations.now = func() time.Time { return start.Add(45 * time.Minute) }

	released, err := reservations.Release(ctx, user.ID, allocated.ID)
	require.NoError(t, err)

	require.NotNil(t, released.TotalCost)
	assert.Equal(t, 3.00, *released.TotalCost)
	assert.Equal(t, models.SpotAvailable, released.Spot.Status)
}

func TestReleaseTwiceFailsAndKeepsCost(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	user := createTestUser(t, "alex")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	reservations.now = func() time.Time { return start }

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	reservations.now = func() time.Time { return start.Add(time.Hour) }
	released, err := reservations.Release(ctx, user.ID, allocated.ID)
	require.NoError(t, err)
	require.NotNil(t, released.TotalCost)
	firstCost := *released.TotalCost

	reservations.now = func() time.Time { return start.Add(5 * time.Hour) }
	_, err = reservations.Release(ctx, user.ID, allocated.ID)
	assert.True(t, errors.Is(err, ErrReservationNotFound))

	var fresh models.Reservation
	require.NoError(t, database.DB.First(&fresh, allocated.ID).Error)
	require.NotNil(t, fresh.TotalCost)
	assert.Equal(t, firstCost, *fresh.TotalCost)
}

func TestReleaseRejectsWhenClosedMidFlight(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	user := createTestUser(t, "alex")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	reservations.now = func() time.Time { return start }

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	// A rival release closes the reservation right after this one reads it as
	// open; the guarded close must then affect zero rows and refuse to
	// overwrite the leave time and cost.
	steals := 1
	closedAt := start.Add(30 * time.Minute)
	require.NoError(t, database.DB.Callback().Query().After("gorm:query").
		Register("test:steal_close", func(tx *gorm.DB) {
			res, ok := tx.Statement.Dest.(*models.Reservation)
			if !ok || steals == 0 || res.ID != allocated.ID || !res.IsOpen() {
				return
			}
			steals--
			tx.Session(&gorm.Session{NewDB: true}).
				Model(&models.Reservation{}).
				Where("id = ?", res.ID).
				Update("leaving_timestamp", closedAt)
		}))
	t.Cleanup(func() {
		require.NoError(t, database.DB.Callback().Query().Remove("test:steal_close"))
	})

	reservations.now = func() time.Time { return start.Add(5 * time.Hour) }
	_, err = reservations.Release(ctx, user.ID, allocated.ID)
	assert.True(t, errors.Is(err, ErrReservationNotFound))
	assert.Equal(t, 0, steals)

	// The losing transaction wrote nothing: no cost, spot untouched.
	var fresh models.Reservation
	require.NoError(t, database.DB.First(&fresh, allocated.ID).Error)
	assert.Nil(t, fresh.TotalCost)
	assert.Equal(t, models.SpotReserved, spotByLabel(t, lot.ID, "S001").Status)
}

func TestRateSnapshotSurvivesLotRateChange(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.00)
	user := createTestUser(t, "alex")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	reservations.now = func() time.Time { return start }

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	newPrice := 10.00
	_, err = lots.Update(ctx, lot.ID, UpdateLotInput{PricePerHour: &newPrice})
	require.NoError(t, err)

	reservations.now = func() time.Time { return start.Add(time.Hour) }
	released, err := reservations.Release(ctx, user.ID, allocated.ID)
	require.NoError(t, err)

	require.NotNil(t, released.TotalCost)
	assert.Equal(t, 2.00, *released.TotalCost)
}

func TestSpotFreedByReleaseIsReallocated(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 2, 2.50)
	first := createTestUser(t, "alex")
	second := createTestUser(t, "blair")

	allocated, err := reservations.Allocate(ctx, first.ID, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "S001", allocated.Spot.SpotNumber)

	_, err = reservations.Release(ctx, first.ID, allocated.ID)
	require.NoError(t, err)

	next, err := reservations.Allocate(ctx, second.ID, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "S001", next.Spot.SpotNumber)
}

func TestCurrentOpen(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	user := createTestUser(t, "alex")

	_, err := reservations.CurrentOpen(ctx, user.ID)
	assert.True(t, errors.Is(err, ErrReservationNotFound))

	allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
	require.NoError(t, err)

	current, err := reservations.CurrentOpen(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, allocated.ID, current.ID)

	_, err = reservations.Release(ctx, user.ID, allocated.ID)
	require.NoError(t, err)

	_, err = reservations.CurrentOpen(ctx, user.ID)
	assert.True(t, errors.Is(err, ErrReservationNotFound))
}

func TestHistoryNewestFirst(t *testing.T) {
	setupTestDB(t)
	lots := NewLotService()
	reservations := NewReservationService(lots)
	ctx := context.Background()

	lot := createTestLot(t, lots, 1, 2.50)
	user := createTestUser(t, "alex")

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * 24 * time.Hour
		reservations.now = func() time.Time { return start.Add(offset) }
		allocated, err := reservations.Allocate(ctx, user.ID, lot.ID)
		require.NoError(t, err)

		reservations.now = func() time.Time { return start.Add(offset + time.Hour) }
		_, err = reservations.Release(ctx, user.ID, allocated.ID)
		require.NoError(t, err)
	}

	history, err := reservations.History(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].ParkingTimestamp.After(history[1].ParkingTimestamp))
	assert.True(t, history[1].ParkingTimestamp.After(history[2].ParkingTimestamp))

	limited, err := reservations.History(ctx, user.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRoundCostHalfUp(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{6.25, 6.25},
		{1.006, 1.01},
		{1.004, 1.00},
		{3.456, 3.46},
		{0, 0},
	}

	for _, tc := range cases {
		if got := roundCost(tc.in); got != tc.want {
			t.Errorf("roundCost(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
