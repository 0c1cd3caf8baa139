package jobs

import (
	"context"
	"encoding/json"
	"time"

	"parking-reservations/internal/logging"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
)

const (
	TypeReceipt  = "receipt:parking"
	DefaultQueue = "default"
)

var (
	tracer       = otel.Tracer("parking-reservations")
	meter        = otel.Meter("parking-reservations")
	jobsEnqueued metric.Int64Counter
)

// ReceiptPayload carries everything the worker needs to issue a parking
// receipt, plus the trace context so the worker span links to the release.
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

type Client struct {
	client *asynq.Client
}

func NewClient(redisAddr string) (*Client, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})

	var err error
	jobsEnqueued, err = meter.Int64Counter(
		"jobs.enqueued",
		metric.WithDescription("Total number of jobs enqueued"),
	)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("failed to create jobs enqueued counter")
	}

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueReceipt(ctx context.Context, payload ReceiptPayload) error {
	ctx, span := tracer.Start(ctx, "job.enqueue.receipt")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("reservation.id", int64(payload.ReservationID)),
		attribute.String("spot.number", payload.SpotNumber),
		attribute.String("job.type", TypeReceipt),
	)

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	payload.TraceContext = carrier

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeReceipt, payloadBytes)
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if jobsEnqueued != nil {
		jobsEnqueued.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job.type", TypeReceipt),
		))
	}

	span.SetAttributes(
		attribute.String("job.id", info.ID),
		attribute.String("job.queue", info.Queue),
	)

	logging.Info(ctx).
		Str("job_id", info.ID).
		Str("job_type", TypeReceipt).
		Uint("reservation_id", payload.ReservationID).
		Msg("job enqueued")

	return nil
}
