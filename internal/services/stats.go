package services

import (
	"context"
	"time"

	"parking-reservations/internal/database"
	"parking-reservations/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

// StatsService serves the admin dashboard and the chart endpoints. All numbers
// are derived reads over the live rows.
type StatsService struct{}

func NewStatsService() *StatsService {
	return &StatsService{}
}

type AdminStats struct {
	TotalLots          int64 `json:"total_lots"`
	TotalSpots         int64 `json:"total_spots"`
	OccupiedSpots      int64 `json:"occupied_spots"`
	AvailableSpots     int64 `json:"available_spots"`
	TotalUsers         int64 `json:"total_users"`
	ActiveReservations int64 `json:"active_reservations"`
}

func (s *StatsService) AdminStats(ctx context.Context) (*AdminStats, error) {
	ctx, span := tracer.Start(ctx, "stats.admin")
	defer span.End()

	db := database.DB.WithContext(ctx)
	var stats AdminStats

	if err := db.Model(&models.ParkingLot{}).Count(&stats.TotalLots).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ParkingSpot{}).Count(&stats.TotalSpots).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ParkingSpot{}).
		Where("status = ?", models.SpotOccupied).
		Count(&stats.OccupiedSpots).Error; err != nil {
		return nil, err
	}
	stats.AvailableSpots = stats.TotalSpots - stats.OccupiedSpots

	if err := db.Model(&models.User{}).
		Where("is_admin = ?", false).
		Count(&stats.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Reservation{}).
		Where("leaving_timestamp IS NULL").
		Count(&stats.ActiveReservations).Error; err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("stats.total_lots", stats.TotalLots),
		attribute.Int64("stats.active_reservations", stats.ActiveReservations),
	)

	return &stats, nil
}

type LotOccupancy struct {
	Name      string `json:"name"`
	Occupied  int    `json:"occupied"`
	Available int    `json:"available"`
}

type RevenuePoint struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

type AdminChartData struct {
	Lots    []LotOccupancy `json:"lots"`
	Revenue []RevenuePoint `json:"revenue"`
}

// AdminChartData reports per-lot occupancy and daily revenue for the last
// seven days, today included.
func (s *StatsService) AdminChartData(ctx context.Context, lots *LotService) (*AdminChartData, error) {
	ctx, span := tracer.Start(ctx, "stats.admin_charts")
	defer span.End()

	var allLots []models.ParkingLot
	if err := database.DB.WithContext(ctx).Order("created_at ASC").Find(&allLots).Error; err != nil {
		return nil, err
	}

	data := &AdminChartData{
		Lots:    make([]LotOccupancy, len(allLots)),
		Revenue: make([]RevenuePoint, 0, 7),
	}

	for i, lot := range allLots {
		counts, err := lots.CountByStatus(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		data.Lots[i] = LotOccupancy{
			Name:      lot.Name,
			Occupied:  counts.Occupied,
			Available: counts.Available,
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 6; i >= 0; i-- {
		dayStart := today.AddDate(0, 0, -i)
		dayEnd := dayStart.AddDate(0, 0, 1)

		var amount float64
		row := struct{ Total float64 }{}
		if err := database.DB.WithContext(ctx).
			Model(&models.Reservation{}).
			Select("coalesce(sum(total_cost), 0) as total").
			Where("leaving_timestamp >= ? AND leaving_timestamp < ?", dayStart, dayEnd).
			Scan(&row).Error; err != nil {
			return nil, err
		}
		amount = row.Total

		data.Revenue = append(data.Revenue, RevenuePoint{
			Date:   dayStart.Format("01/02"),
			Amount: amount,
		})
	}

	span.SetAttributes(attribute.Int("result.lots", len(data.Lots)))
	return data, nil
}

type UserChartData struct {
	Dates     []string  `json:"dates"`
	Costs     []float64 `json:"costs"`
	Durations []float64 `json:"durations"`
}

// UserChartData summarizes the user's last ten completed reservations in
// chronological order.
func (s *StatsService) UserChartData(ctx context.Context, userID uint) (*UserChartData, error) {
	ctx, span := tracer.Start(ctx, "stats.user_charts")
	defer span.End()

	span.SetAttributes(attribute.Int64("user.id", int64(userID)))

	var reservations []models.Reservation
	if err := database.DB.WithContext(ctx).
		Where("user_id = ? AND leaving_timestamp IS NOT NULL", userID).
		Order("leaving_timestamp DESC").
		Limit(10).
		Find(&reservations).Error; err != nil {
		return nil, err
	}

	data := &UserChartData{
		Dates:     make([]string, 0, len(reservations)),
		Costs:     make([]float64, 0, len(reservations)),
		Durations: make([]float64, 0, len(reservations)),
	}

	for i := len(reservations) - 1; i >= 0; i-- {
		r := reservations[i]
		data.Dates = append(data.Dates, r.LeavingTimestamp.Format("01/02"))
		data.Costs = append(data.Costs, derefFloat(r.TotalCost))
		if d := r.DurationHours(); d != nil {
			data.Durations = append(data.Durations, *d)
		} else {
			data.Durations = append(data.Durations, 0)
		}
	}

	return data, nil
}
