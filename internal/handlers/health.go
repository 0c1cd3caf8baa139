package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"parking-reservations/internal/database"
	"parking-reservations/internal/jobs"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

type HealthHandler struct {
	redisAddr string
}

func NewHealthHandler(redisAddr string) *HealthHandler {
	return &HealthHandler{redisAddr: redisAddr}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Redis    string            `json:"redis"`
	Details  map[string]string `json:"details,omitempty"`
}

func (h *HealthHandler) Check(c echo.Context) error {
	ctx := c.Request().Context()

	dbStatus := "healthy"
	if err := database.CheckHealth(); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	details := make(map[string]string)
	pending, err := h.receiptQueueDepth(ctx)
	if err != nil {
		redisStatus = "unhealthy"
	} else {
		details["receipt_queue_pending"] = strconv.Itoa(pending)
	}

	overallStatus := "healthy"
	statusCode := http.StatusOK
	if dbStatus != "healthy" || redisStatus != "healthy" {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:   overallStatus,
		Database: dbStatus,
		Redis:    redisStatus,
		Details:  details,
	}

	return c.JSON(statusCode, response)
}

// receiptQueueDepth doubles as the redis liveness probe: counting pending
// receipt tasks requires a round trip either way.
func (h *HealthHandler) receiptQueueDepth(ctx context.Context) (int, error) {
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: h.redisAddr})
	defer inspector.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	type result struct {
		pending int
		err     error
	}
	done := make(chan result, 1)
	go func() {
		queues, err := inspector.Queues()
		if err != nil {
			done <- result{err: err}
			return
		}
		// An empty deployment has no queue yet; that is not a failure.
		pending := 0
		for _, q := range queues {
			if q != jobs.DefaultQueue {
				continue
			}
			info, err := inspector.GetQueueInfo(q)
			if err != nil {
				done <- result{err: err}
				return
			}
			pending = info.Pending
		}
		done <- result{pending: pending}
	}()

	select {
	case r := <-done:
		return r.pending, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
