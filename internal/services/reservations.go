package services

import (
	"context"
	"errors"
	"math"
	"time"

	"parking-reservations/internal/database"
	"parking-reservations/internal/logging"
	"parking-reservations/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrNoCapacity          = errors.New("no available spots in lot")
	ErrAlreadyReserved     = errors.New("user already has an open reservation")
	ErrConflict            = errors.New("spot was taken concurrently")
)

var (
	allocationCounter metric.Int64Counter
	releaseCounter    metric.Int64Counter
	revenueCounter    metric.Float64Counter
)

// ReservationService drives the reservation lifecycle: Allocated (spot
// Reserved) to Parked (spot Occupied) to Released (spot Available again, cost
// finalized). Each operation checks its preconditions and mutates inside one
// transaction; spot status changes are guarded updates so two racing calls
// cannot both win the same spot.
type ReservationService struct {
	lots *LotService

	// now is the clock for parking and leaving timestamps.
	now func() time.Time
}

func NewReservationService(lots *LotService) *ReservationService {
	var err error
	allocationCounter, err = meter.Int64Counter(
		"reservations.allocated",
		metric.WithDescription("Total number of spot allocations"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create allocation counter")
	}

	releaseCounter, err = meter.Int64Counter(
		"reservations.released",
		metric.WithDescription("Total number of reservation releases"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create release counter")
	}

	revenueCounter, err = meter.Float64Counter(
		"reservations.revenue",
		metric.WithDescription("Total parking revenue from released reservations"),
		metric.WithUnit("{currency}"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create revenue counter")
	}

	return &ReservationService{
		lots: lots,
		now:  time.Now,
	}
}

// Allocate reserves the lowest-numbered available spot in the lot for the
// user. The user must not already hold an open reservation. The lot's current
// rate is snapshotted onto the reservation. A lost race on the spot status is
// retried once before surfacing ErrConflict.
func (s *ReservationService) Allocate(ctx context.Context, userID, lotID uint) (*models.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.allocate")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("lot.id", int64(lotID)),
	)

	reservation, err := s.allocateOnce(ctx, userID, lotID)
	if errors.Is(err, ErrConflict) {
		span.SetAttributes(attribute.Bool("allocation.retried", true))
		reservation, err = s.allocateOnce(ctx, userID, lotID)
	}
	if err != nil {
		return nil, err
	}

	if allocationCounter != nil {
		allocationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int64("lot.id", int64(lotID)),
		))
	}

	span.SetAttributes(
		attribute.Int64("reservation.id", int64(reservation.ID)),
		attribute.String("spot.number", reservation.Spot.SpotNumber),
	)

	logging.Info(ctx).
		Uint("reservation_id", reservation.ID).
		Uint("user_id", userID).
		Uint("lot_id", lotID).
		Str("spot", reservation.Spot.SpotNumber).
		Msg("spot allocated")

	return reservation, nil
}

func (s *ReservationService) allocateOnce(ctx context.Context, userID, lotID uint) (*models.Reservation, error) {
	var reservation models.Reservation

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Reservation{}).
			Where("user_id = ? AND leaving_timestamp IS NULL", userID).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrAlreadyReserved
		}

		var lot models.ParkingLot
		if err := tx.First(&lot, lotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLotNotFound
			}
			return err
		}

		spot, err := s.lots.NextAvailable(ctx, tx, lotID)
		if err != nil {
			return err
		}

		// Guarded transition Available -> Reserved. Zero rows means a
		// concurrent allocation won the spot after we selected it.
		result := tx.Model(&models.ParkingSpot{}).
			Where("id = ? AND status = ?", spot.ID, models.SpotAvailable).
			Update("status", models.SpotReserved)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}

		reservation = models.Reservation{
			SpotID:           spot.ID,
			UserID:           userID,
			ParkingTimestamp: s.now().UTC(),
			PricePerHour:     lot.PricePerHour,
		}
		if err := tx.Create(&reservation).Error; err != nil {
			return err
		}

		return tx.Preload("Spot.Lot").Preload("Spot").First(&reservation, reservation.ID).Error
	})
	if err != nil {
		return nil, err
	}

	return &reservation, nil
}

// MarkParked confirms the vehicle is in the spot: spot Reserved -> Occupied.
// Rejected when the reservation is closed, owned by someone else, or the spot
// is already Occupied, so a double call fails instead of silently passing.
func (s *ReservationService) MarkParked(ctx context.Context, userID, reservationID uint) (*models.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.mark_parked")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("reservation.id", int64(reservationID)),
	)

	var reservation models.Reservation
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ? AND user_id = ? AND leaving_timestamp IS NULL", reservationID, userID).
			First(&reservation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return err
		}

		result := tx.Model(&models.ParkingSpot{}).
			Where("id = ? AND status = ?", reservation.SpotID, models.SpotReserved).
			Update("status", models.SpotOccupied)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrReservationNotFound
		}

		return tx.Preload("Spot.Lot").Preload("Spot").First(&reservation, reservation.ID).Error
	})
	if err != nil {
		return nil, err
	}

	logging.Info(ctx).
		Uint("reservation_id", reservation.ID).
		Str("spot", reservation.Spot.SpotNumber).
		Msg("vehicle marked as parked")

	return &reservation, nil
}

// Release closes an open reservation: leave time is set, cost is finalized as
// round(duration_hours * rate, 2), and the spot returns to Available. Parking
// confirmation is not required first; billing runs from allocation time either
// way. A second call finds no open reservation and fails.
func (s *ReservationService) Release(ctx context.Context, userID, reservationID uint) (*models.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.release")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("reservation.id", int64(reservationID)),
	)

	var reservation models.Reservation
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id = ? AND user_id = ? AND leaving_timestamp IS NULL", reservationID, userID).
			First(&reservation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return err
		}

		leavingAt := s.now().UTC()
		hours := leavingAt.Sub(reservation.ParkingTimestamp).Hours()
		cost := roundCost(hours * reservation.PricePerHour)

		// Guarded close: the open-reservation read above is not enough under
		// concurrent releases, so the update re-checks the row is still open.
		result := tx.Model(&models.Reservation{}).
			Where("id = ? AND leaving_timestamp IS NULL", reservation.ID).
			Updates(map[string]interface{}{
				"leaving_timestamp": leavingAt,
				"total_cost":        cost,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrReservationNotFound
		}

		result = tx.Model(&models.ParkingSpot{}).
			Where("id = ? AND status IN ?", reservation.SpotID,
				[]models.SpotStatus{models.SpotReserved, models.SpotOccupied}).
			Update("status", models.SpotAvailable)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}

		return tx.Preload("Spot.Lot").Preload("Spot").First(&reservation, reservation.ID).Error
	})
	if err != nil {
		return nil, err
	}

	if releaseCounter != nil {
		releaseCounter.Add(ctx, 1)
	}
	if revenueCounter != nil && reservation.TotalCost != nil {
		revenueCounter.Add(ctx, *reservation.TotalCost)
	}

	span.SetAttributes(attribute.Float64("reservation.total_cost", derefFloat(reservation.TotalCost)))

	logging.Info(ctx).
		Uint("reservation_id", reservation.ID).
		Str("spot", reservation.Spot.SpotNumber).
		Float64("total_cost", derefFloat(reservation.TotalCost)).
		Msg("reservation released")

	return &reservation, nil
}

// CurrentOpen returns the user's open reservation, ErrReservationNotFound if
// there is none.
func (s *ReservationService) CurrentOpen(ctx context.Context, userID uint) (*models.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.current_open")
	defer span.End()

	span.SetAttributes(attribute.Int64("user.id", int64(userID)))

	var reservation models.Reservation
	if err := database.DB.WithContext(ctx).
		Preload("Spot.Lot").Preload("Spot").
		Where("user_id = ? AND leaving_timestamp IS NULL", userID).
		First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	return &reservation, nil
}

// History lists the user's reservations, newest first. limit <= 0 means all.
func (s *ReservationService) History(ctx context.Context, userID uint, limit int) ([]models.ReservationResponse, error) {
	ctx, span := tracer.Start(ctx, "reservation.history")
	defer span.End()

	span.SetAttributes(attribute.Int64("user.id", int64(userID)))

	query := database.DB.WithContext(ctx).
		Preload("Spot.Lot").Preload("Spot").
		Where("user_id = ?", userID).
		Order("parking_timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var reservations []models.Reservation
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}

	responses := make([]models.ReservationResponse, len(reservations))
	for i := range reservations {
		responses[i] = reservations[i].ToResponse()
	}

	span.SetAttributes(attribute.Int("result.count", len(responses)))
	return responses, nil
}

// roundCost applies half-up rounding to two decimal places.
func roundCost(v float64) float64 {
	return math.Round(v*100) / 100
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
