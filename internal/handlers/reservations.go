package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"parking-reservations/internal/jobs"
	"parking-reservations/internal/middleware"
	"parking-reservations/internal/services"

	"github.com/labstack/echo/v4"
)

type ReservationHandler struct {
	reservationService *services.ReservationService
	userService        *services.UserService
	jobClient          *jobs.Client
}

func NewReservationHandler(reservationService *services.ReservationService, userService *services.UserService, jobClient *jobs.Client) *ReservationHandler {
	return &ReservationHandler{
		reservationService: reservationService,
		userService:        userService,
		jobClient:          jobClient,
	}
}

type allocateInput struct {
	LotID uint `json:"lot_id"`
}

func (h *ReservationHandler) Allocate(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var input allocateInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if input.LotID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "lot_id is required")
	}

	reservation, err := h.reservationService.Allocate(ctx, userID, input.LotID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyReserved):
			return echo.NewHTTPError(http.StatusConflict, "you already have an active reservation")
		case errors.Is(err, services.ErrLotNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "parking lot not found")
		case errors.Is(err, services.ErrNoCapacity):
			return echo.NewHTTPError(http.StatusConflict, "no available spots in selected lot")
		case errors.Is(err, services.ErrConflict):
			return echo.NewHTTPError(http.StatusConflict, "spot was taken, please retry")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reserve parking spot")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"reservation": reservation.ToResponse(),
	})
}

func (h *ReservationHandler) MarkParked(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	reservationID, err := parseIDParam(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reservation id")
	}

	reservation, err := h.reservationService.MarkParked(ctx, userID, reservationID)
	if err != nil {
		if errors.Is(err, services.ErrReservationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no matching open reservation")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to mark as parked")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"reservation": reservation.ToResponse(),
	})
}

func (h *ReservationHandler) Release(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	reservationID, err := parseIDParam(c, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reservation id")
	}

	reservation, err := h.reservationService.Release(ctx, userID, reservationID)
	if err != nil {
		if errors.Is(err, services.ErrReservationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no matching open reservation")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to release parking spot")
	}

	if h.jobClient != nil && reservation.TotalCost != nil && reservation.LeavingTimestamp != nil {
		username := ""
		if user, err := h.userService.GetByID(ctx, userID); err == nil {
			username = user.Username
		}
		h.jobClient.EnqueueReceipt(ctx, jobs.ReceiptPayload{
			ReservationID: reservation.ID,
			Username:      username,
			SpotNumber:    reservation.Spot.SpotNumber,
			LotName:       reservation.Spot.Lot.Name,
			ParkedAt:      reservation.ParkingTimestamp,
			LeftAt:        *reservation.LeavingTimestamp,
			TotalCost:     *reservation.TotalCost,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"reservation": reservation.ToResponse(),
	})
}

func (h *ReservationHandler) Current(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	reservation, err := h.reservationService.CurrentOpen(ctx, userID)
	if err != nil {
		if errors.Is(err, services.ErrReservationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no active reservation")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get reservation")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"reservation": reservation.ToResponse(),
	})
}

func (h *ReservationHandler) History(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := middleware.GetUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	reservations, err := h.reservationService.History(ctx, userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list reservations")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"reservations": reservations,
	})
}
