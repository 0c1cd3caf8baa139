package services

import (
	"context"
	"testing"

	"parking-reservations/internal/database"
	"parking-reservations/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.ParkingLot{},
		&models.ParkingSpot{},
		&models.Reservation{},
	))

	database.DB = db
}

func createTestUser(t *testing.T, username string) *models.User {
	t.Helper()

	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}
	require.NoError(t, database.DB.Create(user).Error)
	return user
}

func createTestLot(t *testing.T, lots *LotService, capacity int, pricePerHour float64) *models.ParkingLot {
	t.Helper()

	lot, err := lots.Create(context.Background(), CreateLotInput{
		Name:         "Central Garage",
		PricePerHour: pricePerHour,
		Address:      "12 Main St",
		PinCode:      "560001",
		MaxSpots:     capacity,
	})
	require.NoError(t, err)
	return lot
}

func spotByLabel(t *testing.T, lotID uint, label string) *models.ParkingSpot {
	t.Helper()

	var spot models.ParkingSpot
	require.NoError(t, database.DB.
		Where("lot_id = ? AND spot_number = ?", lotID, label).
		First(&spot).Error)
	return &spot
}

func setSpotStatus(t *testing.T, spotID uint, status models.SpotStatus) {
	t.Helper()

	require.NoError(t, database.DB.Model(&models.ParkingSpot{}).
		Where("id = ?", spotID).
		Update("status", status).Error)
}
