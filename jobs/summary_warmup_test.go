package jobs

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/finance"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	_ "github.com/comptoir-erp/comptoir/testing"
)

// countingRepo tracks how many summary computations ran; each computed
// window loads the entry collection exactly once.
type countingRepo struct {
	entryLoads atomic.Int32
}

func (r *countingRepo) InsertEntry(ctx context.Context, entry ledger.Entry) error { return nil }

func (r *countingRepo) ListEntries(ctx context.Context, window finance.Range) ([]ledger.Entry, error) {
	r.entryLoads.Add(1)
	return nil, nil
}

func (r *countingRepo) ListEntriesByType(ctx context.Context, entryType string) ([]ledger.Entry, error) {
	return nil, nil
}

func (r *countingRepo) ListExpenses(ctx context.Context, window finance.Range) ([]ledger.Expense, error) {
	return nil, nil
}

func (r *countingRepo) ListSales(ctx context.Context, window finance.Range) ([]ledger.Sale, error) {
	return nil, nil
}

func (r *countingRepo) ListProducts(ctx context.Context) ([]ledger.Product, error) { return nil, nil }

func (r *countingRepo) ListStockHistory(ctx context.Context) ([]ledger.StockChange, error) {
	return nil, nil
}

func (r *countingRepo) ListBatches(ctx context.Context) ([]costing.Batch, error) { return nil, nil }

func newWarmupJob(repo *countingRepo) *SummaryWarmupJob {
	service := finance.NewService(repo, nil, finance.NewCache(nil, 0))
	return NewSummaryWarmupJob(service, nil, nil)
}

func TestSummaryWarmupAllScopeWarmsBothWindows(t *testing.T) {
	repo := &countingRepo{}
	job := newWarmupJob(repo)

	task, err := NewSummaryWarmupTask("all")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int32(2), repo.entryLoads.Load())
}

func TestSummaryWarmupNarrowScopeWarmsAllTimeOnly(t *testing.T) {
	repo := &countingRepo{}
	job := newWarmupJob(repo)

	task, err := NewSummaryWarmupTask("alltime")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int32(1), repo.entryLoads.Load())
}

func TestSummaryWarmupSkipsRetryOnBadPayload(t *testing.T) {
	repo := &countingRepo{}
	job := newWarmupJob(repo)

	task := asynq.NewTask(TaskSummaryWarmup, []byte("not-json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, int32(0), repo.entryLoads.Load())
}
