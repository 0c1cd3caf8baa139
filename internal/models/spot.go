package models

import (
	"fmt"
)

type SpotStatus string

const (
	SpotAvailable SpotStatus = "A"
	SpotReserved  SpotStatus = "R"
	SpotOccupied  SpotStatus = "O"
)

func (s SpotStatus) String() string {
	switch s {
	case SpotAvailable:
		return "Available"
	case SpotReserved:
		return "Reserved"
	case SpotOccupied:
		return "Occupied"
	}
	return "Unknown"
}

// ParkingSpot is one allocatable space within a lot. Sequence is a monotonic
// per-lot number assigned at creation; allocation always picks the available
// spot with the lowest sequence.
type ParkingSpot struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	LotID      uint       `gorm:"not null;index;uniqueIndex:idx_lot_sequence" json:"lot_id"`
	Sequence   int        `gorm:"not null;uniqueIndex:idx_lot_sequence" json:"sequence"`
	SpotNumber string     `gorm:"not null" json:"spot_number"`
	Status     SpotStatus `gorm:"type:varchar(1);not null;default:'A'" json:"status"`

	Lot          ParkingLot    `gorm:"foreignKey:LotID" json:"-"`
	Reservations []Reservation `gorm:"foreignKey:SpotID" json:"-"`
}

// SpotLabel formats a spot's display label from its sequence number.
func SpotLabel(sequence int) string {
	return fmt.Sprintf("S%03d", sequence)
}

type SpotResponse struct {
	ID         uint   `json:"id"`
	LotID      uint   `json:"lot_id"`
	SpotNumber string `json:"spot_number"`
	Status     string `json:"status"`
	StatusCode string `json:"status_code"`
}

func (s *ParkingSpot) ToResponse() SpotResponse {
	return SpotResponse{
		ID:         s.ID,
		LotID:      s.LotID,
		SpotNumber: s.SpotNumber,
		Status:     s.Status.String(),
		StatusCode: string(s.Status),
	}
}
