package services

import (
	"context"
	"errors"
	"time"

	"parking-reservations/internal/database"
	"parking-reservations/internal/logging"
	"parking-reservations/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

var (
	ErrLotNotFound                = errors.New("parking lot not found")
	ErrSpotNotFound               = errors.New("parking spot not found")
	ErrInvalidCapacity            = errors.New("capacity must be at least 1")
	ErrInsufficientAvailableSpots = errors.New("not enough available spots to shrink lot")
	ErrLotNotEmpty                = errors.New("lot has reserved or occupied spots")
)

var lotResizeCounter metric.Int64Counter

// LotService owns parking lots and their spot pools: creating the pool with
// the lot, counting spots by status, picking the next available spot, and the
// capacity resize that grows or shrinks the pool.
type LotService struct{}

func NewLotService() *LotService {
	var err error
	lotResizeCounter, err = meter.Int64Counter(
		"lots.resizes",
		metric.WithDescription("Total number of lot capacity resizes"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create lot resize counter")
	}

	return &LotService{}
}

type CreateLotInput struct {
	Name         string  `json:"name" validate:"required"`
	PricePerHour float64 `json:"price_per_hour" validate:"required,gt=0"`
	Address      string  `json:"address" validate:"required"`
	PinCode      string  `json:"pin_code" validate:"required"`
	MaxSpots     int     `json:"max_spots" validate:"required,min=1"`
}

type UpdateLotInput struct {
	Name         *string  `json:"name"`
	PricePerHour *float64 `json:"price_per_hour"`
	Address      *string  `json:"address"`
	PinCode      *string  `json:"pin_code"`
	MaxSpots     *int     `json:"max_spots"`
}

// Create inserts a lot together with its spot pool: spots S001..S<n>, all
// Available, in one transaction.
func (s *LotService) Create(ctx context.Context, input CreateLotInput) (*models.ParkingLot, error) {
	ctx, span := tracer.Start(ctx, "lot.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("lot.name", input.Name),
		attribute.Int("lot.max_spots", input.MaxSpots),
	)

	if input.MaxSpots < 1 {
		return nil, ErrInvalidCapacity
	}

	lot := models.ParkingLot{
		Name:         input.Name,
		PricePerHour: input.PricePerHour,
		Address:      input.Address,
		PinCode:      input.PinCode,
		MaxSpots:     input.MaxSpots,
	}

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&lot).Error; err != nil {
			return err
		}

		spots := make([]models.ParkingSpot, input.MaxSpots)
		for i := range spots {
			spots[i] = models.ParkingSpot{
				LotID:      lot.ID,
				Sequence:   i + 1,
				SpotNumber: models.SpotLabel(i + 1),
				Status:     models.SpotAvailable,
			}
		}
		return tx.Create(&spots).Error
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("lot.id", int64(lot.ID)))

	logging.Info(ctx).
		Uint("lot_id", lot.ID).
		Str("name", lot.Name).
		Int("spots", input.MaxSpots).
		Msg("parking lot created")

	return &lot, nil
}

func (s *LotService) GetByID(ctx context.Context, lotID uint) (*models.ParkingLot, error) {
	ctx, span := tracer.Start(ctx, "lot.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("lot.id", int64(lotID)))

	var lot models.ParkingLot
	if err := database.DB.WithContext(ctx).First(&lot, lotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLotNotFound
		}
		return nil, err
	}
	return &lot, nil
}

// List returns all lots with their live spot counts.
func (s *LotService) List(ctx context.Context) ([]models.LotResponse, error) {
	ctx, span := tracer.Start(ctx, "lot.list")
	defer span.End()

	var lots []models.ParkingLot
	if err := database.DB.WithContext(ctx).Order("created_at ASC").Find(&lots).Error; err != nil {
		return nil, err
	}

	responses := make([]models.LotResponse, len(lots))
	for i, lot := range lots {
		counts, err := s.CountByStatus(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		responses[i] = lot.ToResponse(counts)
	}

	span.SetAttributes(attribute.Int("result.count", len(lots)))
	return responses, nil
}

// CountByStatus derives a lot's spot breakdown from the spot rows. The counts
// are never cached; the spot rows are the single source of truth.
func (s *LotService) CountByStatus(ctx context.Context, lotID uint) (models.SpotCounts, error) {
	var rows []struct {
		Status models.SpotStatus
		Count  int
	}
	if err := database.DB.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Select("status, count(*) as count").
		Where("lot_id = ?", lotID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return models.SpotCounts{}, err
	}

	var counts models.SpotCounts
	for _, row := range rows {
		switch row.Status {
		case models.SpotAvailable:
			counts.Available = row.Count
		case models.SpotReserved:
			counts.Reserved = row.Count
		case models.SpotOccupied:
			counts.Occupied = row.Count
		}
	}
	return counts, nil
}

// NextAvailable picks the available spot with the lowest sequence number, so
// allocation is deterministic. Must run inside the caller's transaction.
func (s *LotService) NextAvailable(ctx context.Context, tx *gorm.DB, lotID uint) (*models.ParkingSpot, error) {
	var spot models.ParkingSpot
	err := tx.WithContext(ctx).
		Where("lot_id = ? AND status = ?", lotID, models.SpotAvailable).
		Order("sequence ASC").
		First(&spot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCapacity
		}
		return nil, err
	}
	return &spot, nil
}

// Update edits lot fields and, when MaxSpots changes, resizes the spot pool.
// Growing appends spots with sequences continuing past the current maximum.
// Shrinking removes Available spots only, highest sequence first, and fails
// all-or-nothing when too few spots are Available. The rate change never
// touches existing reservations; they keep their snapshotted rate.
func (s *LotService) Update(ctx context.Context, lotID uint, input UpdateLotInput) (*models.ParkingLot, error) {
	ctx, span := tracer.Start(ctx, "lot.update")
	defer span.End()

	span.SetAttributes(attribute.Int64("lot.id", int64(lotID)))

	if input.MaxSpots != nil && *input.MaxSpots < 1 {
		return nil, ErrInvalidCapacity
	}

	var lot models.ParkingLot
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&lot, lotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLotNotFound
			}
			return err
		}

		updates := make(map[string]interface{})
		if input.Name != nil {
			updates["name"] = *input.Name
		}
		if input.PricePerHour != nil {
			updates["price_per_hour"] = *input.PricePerHour
		}
		if input.Address != nil {
			updates["address"] = *input.Address
		}
		if input.PinCode != nil {
			updates["pin_code"] = *input.PinCode
		}

		if input.MaxSpots != nil {
			if err := s.resize(ctx, tx, &lot, *input.MaxSpots); err != nil {
				return err
			}
			updates["max_spots"] = *input.MaxSpots
		}

		if len(updates) > 0 {
			if err := tx.Model(&lot).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.First(&lot, lotID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info(ctx).
		Uint("lot_id", lot.ID).
		Str("name", lot.Name).
		Msg("parking lot updated")

	return &lot, nil
}

func (s *LotService) resize(ctx context.Context, tx *gorm.DB, lot *models.ParkingLot, newCapacity int) error {
	var current int64
	if err := tx.Model(&models.ParkingSpot{}).Where("lot_id = ?", lot.ID).Count(&current).Error; err != nil {
		return err
	}

	switch {
	case newCapacity > int(current):
		row := struct{ Max int }{}
		if err := tx.Model(&models.ParkingSpot{}).
			Select("coalesce(max(sequence), 0) as max").
			Where("lot_id = ?", lot.ID).
			Scan(&row).Error; err != nil {
			return err
		}
		maxSeq := row.Max

		toAdd := newCapacity - int(current)
		spots := make([]models.ParkingSpot, toAdd)
		for i := range spots {
			seq := maxSeq + i + 1
			spots[i] = models.ParkingSpot{
				LotID:      lot.ID,
				Sequence:   seq,
				SpotNumber: models.SpotLabel(seq),
				Status:     models.SpotAvailable,
			}
		}
		if err := tx.Create(&spots).Error; err != nil {
			return err
		}

	case newCapacity < int(current):
		toRemove := int(current) - newCapacity

		var removable []models.ParkingSpot
		if err := tx.
			Where("lot_id = ? AND status = ?", lot.ID, models.SpotAvailable).
			Order("sequence DESC").
			Limit(toRemove).
			Find(&removable).Error; err != nil {
			return err
		}
		if len(removable) < toRemove {
			return ErrInsufficientAvailableSpots
		}

		ids := make([]uint, len(removable))
		for i, spot := range removable {
			ids[i] = spot.ID
		}
		// Re-check status in the delete itself: a spot reserved after the
		// select above must survive, and the shrink is all-or-nothing.
		result := tx.
			Where("id IN ? AND status = ?", ids, models.SpotAvailable).
			Delete(&models.ParkingSpot{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected < int64(toRemove) {
			return ErrInsufficientAvailableSpots
		}
	}

	if lotResizeCounter != nil {
		lotResizeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("lot.capacity.from", int(current)),
			attribute.Int("lot.capacity.to", newCapacity),
		))
	}

	logging.Info(ctx).
		Uint("lot_id", lot.ID).
		Int("from", int(current)).
		Int("to", newCapacity).
		Msg("lot capacity resized")

	return nil
}

// Delete removes a lot and its spots. Blocked while any spot is Reserved or
// Occupied; released reservations keep their rows since they reference spots
// only by id.
func (s *LotService) Delete(ctx context.Context, lotID uint) error {
	ctx, span := tracer.Start(ctx, "lot.delete")
	defer span.End()

	span.SetAttributes(attribute.Int64("lot.id", int64(lotID)))

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lot models.ParkingLot
		if err := tx.First(&lot, lotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLotNotFound
			}
			return err
		}

		var inUse int64
		if err := tx.Model(&models.ParkingSpot{}).
			Where("lot_id = ? AND status IN ?", lotID, []models.SpotStatus{models.SpotReserved, models.SpotOccupied}).
			Count(&inUse).Error; err != nil {
			return err
		}
		if inUse > 0 {
			return ErrLotNotEmpty
		}

		if err := tx.Where("lot_id = ?", lotID).Delete(&models.ParkingSpot{}).Error; err != nil {
			return err
		}
		return tx.Delete(&lot).Error
	})
	if err != nil {
		return err
	}

	logging.Info(ctx).
		Uint("lot_id", lotID).
		Msg("parking lot deleted")

	return nil
}

type SpotSearchInput struct {
	SpotNumber string
	LotID      *uint
	Status     string
}

type SpotSearchResult struct {
	models.SpotResponse
	LotName     string     `json:"lot_name"`
	LotAddress  string     `json:"lot_address"`
	Occupant    string     `json:"occupant,omitempty"`
	ParkedSince *time.Time `json:"parked_since,omitempty"`
}

// SearchSpots is the admin spot lookup: filter by spot number, lot, or status.
// Reserved and Occupied spots include who holds them and since when.
func (s *LotService) SearchSpots(ctx context.Context, input SpotSearchInput) ([]SpotSearchResult, error) {
	ctx, span := tracer.Start(ctx, "lot.search_spots")
	defer span.End()

	query := database.DB.WithContext(ctx).Model(&models.ParkingSpot{}).Preload("Lot")
	if input.SpotNumber != "" {
		query = query.Where("spot_number = ?", input.SpotNumber)
		span.SetAttributes(attribute.String("search.spot_number", input.SpotNumber))
	}
	if input.LotID != nil {
		query = query.Where("lot_id = ?", *input.LotID)
		span.SetAttributes(attribute.Int64("search.lot_id", int64(*input.LotID)))
	}
	if input.Status != "" {
		query = query.Where("status = ?", input.Status)
		span.SetAttributes(attribute.String("search.status", input.Status))
	}

	var spots []models.ParkingSpot
	if err := query.Order("lot_id ASC, sequence ASC").Find(&spots).Error; err != nil {
		return nil, err
	}

	results := make([]SpotSearchResult, len(spots))
	for i, spot := range spots {
		result := SpotSearchResult{
			SpotResponse: spot.ToResponse(),
			LotName:      spot.Lot.Name,
			LotAddress:   spot.Lot.Address,
		}

		if spot.Status != models.SpotAvailable {
			var reservation models.Reservation
			err := database.DB.WithContext(ctx).
				Preload("User").
				Where("spot_id = ? AND leaving_timestamp IS NULL", spot.ID).
				First(&reservation).Error
			if err == nil {
				result.Occupant = reservation.User.Username
				since := reservation.ParkingTimestamp
				result.ParkedSince = &since
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}

		results[i] = result
	}

	span.SetAttributes(attribute.Int("result.count", len(results)))
	return results, nil
}
