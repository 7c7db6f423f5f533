package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/comptoir-erp/comptoir/internal/jobs"
)

// StockSweepPayload carries scheduling metadata.
type StockSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockSweepTask constructs an Asynq task for the depleted-batch sweep.
func NewStockSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockSweep, body, asynq.Queue(QueueDefault)), nil
}

// StockSweepJob marks active batches with zero remaining quantity as
// depleted. The consume path already does this inline; the sweep catches
// rows written by imports or manual corrections.
type StockSweepJob struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewStockSweepJob builds the job.
func NewStockSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockSweepJob {
	return &StockSweepJob{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskStockSweep tasks.
func (j *StockSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload StockSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("stock_sweep")
	tag, err := j.pool.Exec(ctx, `UPDATE stock_batches SET status='depleted', updated_at=NOW() WHERE status='active' AND remaining=0`)
	if err != nil {
		return tracker.End(err)
	}
	if j.logger != nil {
		j.logger.Info("stock sweep done", slog.Int64("swept", tag.RowsAffected()))
	}
	return tracker.End(nil)
}
