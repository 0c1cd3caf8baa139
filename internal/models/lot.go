package models

import (
	"time"
)

type ParkingLot struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	PricePerHour float64   `gorm:"not null" json:"price_per_hour"`
	Address      string    `gorm:"type:text;not null" json:"address"`
	PinCode      string    `gorm:"not null" json:"pin_code"`
	MaxSpots     int       `gorm:"not null" json:"max_spots"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`

	Spots []ParkingSpot `gorm:"foreignKey:LotID;constraint:OnDelete:CASCADE" json:"-"`
}

type LotResponse struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	PricePerHour float64   `json:"price_per_hour"`
	Address      string    `json:"address"`
	PinCode      string    `json:"pin_code"`
	MaxSpots     int       `json:"max_spots"`
	Available    int       `json:"available_spots"`
	Reserved     int       `json:"reserved_spots"`
	Occupied     int       `json:"occupied_spots"`
	CreatedAt    time.Time `json:"created_at"`
}

func (l *ParkingLot) ToResponse(counts SpotCounts) LotResponse {
	return LotResponse{
		ID:           l.ID,
		Name:         l.Name,
		PricePerHour: l.PricePerHour,
		Address:      l.Address,
		PinCode:      l.PinCode,
		MaxSpots:     l.MaxSpots,
		Available:    counts.Available,
		Reserved:     counts.Reserved,
		Occupied:     counts.Occupied,
		CreatedAt:    l.CreatedAt,
	}
}

// SpotCounts is a point-in-time breakdown of a lot's spots by status. It is
// always derived from the spot rows, never stored.
type SpotCounts struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Occupied  int `json:"occupied"`
}

func (c SpotCounts) Total() int {
	return c.Available + c.Reserved + c.Occupied
}
