package handlers

import (
	"net/http"
	"strconv"

	"parking-reservations/internal/middleware"
	"parking-reservations/internal/services"

	"github.com/labstack/echo/v4"
)

// AdminHandler serves the dashboard stats, chart data, spot search, and user
// listing. All routes are behind JWTAuth + AdminRequired.
type AdminHandler struct {
	statsService *services.StatsService
	lotService   *services.LotService
	userService  *services.UserService
}

func NewAdminHandler(statsService *services.StatsService, lotService *services.LotService, userService *services.UserService) *AdminHandler {
	return &AdminHandler{
		statsService: statsService,
		lotService:   lotService,
		userService:  userService,
	}
}

func (h *AdminHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.statsService.AdminStats(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute stats")
	}

	return c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) ChartData(c echo.Context) error {
	ctx := c.Request().Context()

	data, err := h.statsService.AdminChartData(ctx, h.lotService)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute chart data")
	}

	return c.JSON(http.StatusOK, data)
}

func (h *AdminHandler) SearchSpots(c echo.Context) error {
	ctx := c.Request().Context()

	input := services.SpotSearchInput{
		SpotNumber: c.QueryParam("spot_number"),
		Status:     c.QueryParam("status"),
	}

	if raw := c.QueryParam("lot_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lot_id")
		}
		lotID := uint(id)
		input.LotID = &lotID
	}

	if input.SpotNumber == "" && input.LotID == nil && input.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "spot_number, lot_id, or status is required")
	}

	results, err := h.lotService.SearchSpots(ctx, input)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to search spots")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total_spots": len(results),
		"spots":       results,
	})
}

func (h *AdminHandler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	users, err := h.userService.ListRegistered(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list users")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"users": users,
	})
}

// UserChartData is the non-admin chart endpoint; it lives here with the other
// chart plumbing but only requires a valid login.
func (h *AdminHandler) UserChartData(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	data, err := h.statsService.UserChartData(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute chart data")
	}

	return c.JSON(http.StatusOK, data)
}
