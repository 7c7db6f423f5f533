package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockSweep flips exhausted batches to depleted.
	TaskStockSweep = "stock:sweep"
	// TaskSummaryWarmup precomputes the cached finance summary.
	TaskSummaryWarmup = "finance:summary_warmup"
)
