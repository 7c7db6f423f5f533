package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/comptoir-erp/comptoir/internal/finance"
	jobmetrics "github.com/comptoir-erp/comptoir/internal/jobs"
)

// SummaryWarmupPayload selects the windows to precompute. Scope "all" warms
// the all-time and current-month windows; any other value warms the all-time
// window only.
type SummaryWarmupPayload struct {
	Scope string `json:"scope"`
}

// NewSummaryWarmupTask constructs an Asynq task for summary warmup.
func NewSummaryWarmupTask(scope string) (*asynq.Task, error) {
	body, err := json.Marshal(SummaryWarmupPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryWarmup, body, asynq.Queue(QueueDefault)), nil
}

// SummaryWarmupJob precomputes the all-time and current-month summaries so
// the first dashboard hit after a cache bump never pays the fan-out cost.
type SummaryWarmupJob struct {
	service *finance.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSummaryWarmupJob builds the job.
func NewSummaryWarmupJob(service *finance.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskSummaryWarmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SummaryWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("summary_warmup")

	now := time.Now().UTC()
	windows := []finance.Range{{}}
	if payload.Scope == "all" {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		windows = append(windows, finance.Range{From: monthStart, To: now})
	}
	for _, window := range windows {
		if _, err := j.service.Summary(ctx, window); err != nil {
			return tracker.End(err)
		}
	}
	if j.logger != nil {
		j.logger.Info("summary warmup done", slog.Int("windows", len(windows)))
	}
	return tracker.End(nil)
}
