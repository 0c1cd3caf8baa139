package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"parking-reservations/internal/services"

	"github.com/labstack/echo/v4"
)

type LotHandler struct {
	lotService *services.LotService
}

func NewLotHandler(lotService *services.LotService) *LotHandler {
	return &LotHandler{lotService: lotService}
}

func (h *LotHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	lots, err := h.lotService.List(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list parking lots")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"lots": lots,
	})
}

func (h *LotHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var input services.CreateLotInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if input.Name == "" || input.Address == "" || input.PinCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name, address, and pin_code are required")
	}
	if input.PricePerHour <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price_per_hour must be positive")
	}
	if input.MaxSpots < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_spots must be at least 1")
	}

	lot, err := h.lotService.Create(ctx, input)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create parking lot")
	}

	counts, err := h.lotService.CountByStatus(ctx, lot.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create parking lot")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"lot": lot.ToResponse(counts),
	})
}

func (h *LotHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	lotID, err := parseIDParam(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lot id")
	}

	var input services.UpdateLotInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	lot, err := h.lotService.Update(ctx, lotID, input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLotNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "parking lot not found")
		case errors.Is(err, services.ErrInvalidCapacity):
			return echo.NewHTTPError(http.StatusBadRequest, "max_spots must be at least 1")
		case errors.Is(err, services.ErrInsufficientAvailableSpots):
			return echo.NewHTTPError(http.StatusConflict, "not enough available spots to shrink lot")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update parking lot")
	}

	counts, err := h.lotService.CountByStatus(ctx, lot.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update parking lot")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"lot": lot.ToResponse(counts),
	})
}

func (h *LotHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	lotID, err := parseIDParam(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lot id")
	}

	if err := h.lotService.Delete(ctx, lotID); err != nil {
		switch {
		case errors.Is(err, services.ErrLotNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "parking lot not found")
		case errors.Is(err, services.ErrLotNotEmpty):
			return echo.NewHTTPError(http.StatusConflict, "lot has reserved or occupied spots")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete parking lot")
	}

	return c.NoContent(http.StatusNoContent)
}

func parseIDParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
