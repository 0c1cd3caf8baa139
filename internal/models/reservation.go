package models

import (
	"time"
)

// Reservation binds one user to one spot for a bounded interval. PricePerHour
// is snapshotted from the lot at allocation so later rate changes never affect
// an existing reservation. LeavingTimestamp and TotalCost stay null until the
// reservation is released, after which the row is never mutated again.
type Reservation struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	SpotID           uint       `gorm:"not null;index" json:"spot_id"`
	UserID           uint       `gorm:"not null;index" json:"user_id"`
	ParkingTimestamp time.Time  `gorm:"not null" json:"parking_timestamp"`
	LeavingTimestamp *time.Time `json:"leaving_timestamp"`
	PricePerHour     float64    `gorm:"not null" json:"price_per_hour"`
	TotalCost        *float64   `json:"total_cost"`

	Spot ParkingSpot `gorm:"foreignKey:SpotID" json:"-"`
	User User        `gorm:"foreignKey:UserID" json:"-"`
}

func (r *Reservation) IsOpen() bool {
	return r.LeavingTimestamp == nil
}

// DurationHours is the elapsed time in fractional hours, nil while open.
func (r *Reservation) DurationHours() *float64 {
	if r.LeavingTimestamp == nil {
		return nil
	}
	hours := r.LeavingTimestamp.Sub(r.ParkingTimestamp).Hours()
	return &hours
}

type ReservationResponse struct {
	ID               uint       `json:"id"`
	SpotID           uint       `json:"spot_id"`
	SpotNumber       string     `json:"spot_number"`
	LotID            uint       `json:"lot_id"`
	LotName          string     `json:"lot_name"`
	SpotStatus       string     `json:"spot_status"`
	ParkingTimestamp time.Time  `json:"parking_timestamp"`
	LeavingTimestamp *time.Time `json:"leaving_timestamp"`
	PricePerHour     float64    `json:"price_per_hour"`
	DurationHours    *float64   `json:"duration_hours"`
	TotalCost        *float64   `json:"total_cost"`
}

// ToResponse assumes Spot (and Spot.Lot) are preloaded.
func (r *Reservation) ToResponse() ReservationResponse {
	return ReservationResponse{
		ID:               r.ID,
		SpotID:           r.SpotID,
		SpotNumber:       r.Spot.SpotNumber,
		LotID:            r.Spot.LotID,
		LotName:          r.Spot.Lot.Name,
		SpotStatus:       r.Spot.Status.String(),
		ParkingTimestamp: r.ParkingTimestamp,
		LeavingTimestamp: r.LeavingTimestamp,
		PricePerHour:     r.PricePerHour,
		DurationHours:    r.DurationHours(),
		TotalCost:        r.TotalCost,
	}
}
