package database

import (
	"parking-reservations/internal/models"
)

func Migrate() error {
	return DB.AutoMigrate(
		&models.User{},
		&models.ParkingLot{},
		&models.ParkingSpot{},
		&models.Reservation{},
	)
}
