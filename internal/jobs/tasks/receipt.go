package tasks

import (
	"context"
	"encoding/json"
	"time"

	"parking-reservations/internal/logging"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
)

var (
	tracer        = otel.Tracer("parking-reservations-worker")
	meter         = otel.Meter("parking-reservations-worker")
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsDuration  metric.Float64Histogram
)

func init() {
	var err error

	jobsCompleted, err = meter.Int64Counter(
		"jobs.completed",
		metric.WithDescription("Total number of jobs completed successfully"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create jobs completed counter")
	}

	jobsFailed, err = meter.Int64Counter(
		"jobs.failed",
		metric.WithDescription("Total number of jobs failed"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create jobs failed counter")
	}

	jobsDuration, err = meter.Float64Histogram(
		"jobs.duration_ms",
		metric.WithDescription("Job processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create jobs duration histogram")
	}
}

type ReceiptPayload struct {
	ReservationID uint              `json:"reservation_id"`
	Username      string            `json:"username"`
	SpotNumber    string            `json:"spot_number"`
	LotName       string            `json:"lot_name"`
	ParkedAt      time.Time         `json:"parked_at"`
	LeftAt        time.Time         `json:"left_at"`
	TotalCost     float64           `json:"total_cost"`
	TraceContext  map[string]string `json:"trace_context"`
}

// HandleReceipt issues the parking receipt for a released reservation.
func HandleReceipt(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var payload ReceiptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		recordJobMetrics(ctx, "receipt:parking", false, time.Since(start))
		return err
	}

	parentCtx := otel.GetTextMapPropagator().Extract(
		context.Background(),
		propagation.MapCarrier(payload.TraceContext),
	)

	ctx, span := tracer.Start(parentCtx, "job.receipt")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("reservation.id", int64(payload.ReservationID)),
		attribute.String("spot.number", payload.SpotNumber),
		attribute.Float64("receipt.total_cost", payload.TotalCost),
		attribute.String("job.type", "receipt:parking"),
	)

	logging.Info(ctx).
		Uint("reservation_id", payload.ReservationID).
		Str("username", payload.Username).
		Str("spot", payload.SpotNumber).
		Str("lot", payload.LotName).
		Msg("processing parking receipt")

	// Stand-in for the actual delivery channel (email/SMS).
	time.Sleep(100 * time.Millisecond)

	span.SetStatus(codes.Ok, "receipt processed")
	span.SetAttributes(attribute.Bool("job.success", true))

	logging.Info(ctx).
		Uint("reservation_id", payload.ReservationID).
		Float64("total_cost", payload.TotalCost).
		Msg("parking receipt processed successfully")

	recordJobMetrics(ctx, "receipt:parking", true, time.Since(start))

	return nil
}

func recordJobMetrics(ctx context.Context, jobType string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("job.type", jobType),
	}

	if success {
		if jobsCompleted != nil {
			jobsCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	} else {
		if jobsFailed != nil {
			jobsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}

	if jobsDuration != nil {
		jobsDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
}
