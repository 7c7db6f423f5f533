package stock

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/shared"
	_ "github.com/comptoir-erp/comptoir/testing"
)

type memoryRepo struct {
	batches   map[string]Batch
	movements []Movement
	lines     map[string][]costing.Consumption
	failTx    int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[string]Batch), lines: make(map[string][]costing.Consumption)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failTx > 0 {
		r.failTx--
		return &pgconn.PgError{Code: "40001"}
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) InsertBatch(ctx context.Context, batch Batch) error {
	r.batches[batch.ID] = batch
	return nil
}

func (r *memoryRepo) UpdateBatchStatus(ctx context.Context, batchID string, status costing.BatchStatus) error {
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	batch.Status = status
	r.batches[batchID] = batch
	return nil
}

func (r *memoryRepo) ListBatches(ctx context.Context, productID string) ([]Batch, error) {
	result := []Batch{}
	for _, b := range r.batches {
		if b.ProductID == productID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AcquiredAt.Before(result[j].AcquiredAt) })
	return result, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error) {
	result := []Movement{}
	for _, m := range r.movements {
		if m.ProductID == productID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (tx *memoryTx) ListBatchesForUpdate(ctx context.Context, productID string) ([]Batch, error) {
	return tx.repo.ListBatches(ctx, productID)
}

func (tx *memoryTx) ApplyConsumption(ctx context.Context, batchID string, remaining int64, status costing.BatchStatus) error {
	batch, ok := tx.repo.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	batch.Remaining = remaining
	batch.Status = status
	tx.repo.batches[batchID] = batch
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement, lines []costing.Consumption) error {
	tx.repo.movements = append(tx.repo.movements, movement)
	tx.repo.lines[movement.ID] = lines
	return nil
}

type countingInvalidator struct {
	bumps int
}

func (c *countingInvalidator) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

func seedBatch(t *testing.T, repo *memoryRepo, id, productID string, remaining int64, price string, acquired time.Time) {
	t.Helper()
	repo.batches[id] = Batch{
		ID:         id,
		ProductID:  productID,
		Quantity:   remaining,
		Remaining:  remaining,
		CostPrice:  decimal.RequireFromString(price),
		AcquiredAt: acquired,
		Status:     costing.BatchStatusActive,
	}
}

func TestRestockCreatesActiveBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	batch, err := svc.Restock(context.Background(), RestockInput{
		ProductID: "p1",
		Quantity:  10,
		CostPrice: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, batch.ID)
	require.Equal(t, int64(10), batch.Remaining)
	require.Equal(t, costing.BatchStatusActive, batch.Status)

	_, err = svc.Restock(context.Background(), RestockInput{ProductID: "p1", Quantity: 0, CostPrice: decimal.Zero})
	require.ErrorIs(t, err, costing.ErrInvalidQuantity)
}

func TestConsumeFIFOPersistsBreakdown(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seedBatch(t, repo, "b1", "p1", 10, "100", base)
	seedBatch(t, repo, "b2", "p1", 5, "120", base.Add(time.Hour))

	result, err := svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 12, Method: costing.MethodFIFO})
	require.NoError(t, err)
	require.Len(t, result.Allocation.Consumed, 2)
	require.True(t, result.Allocation.TotalCost.Equal(decimal.RequireFromString("1240")))

	require.Equal(t, int64(0), repo.batches["b1"].Remaining)
	require.Equal(t, costing.BatchStatusDepleted, repo.batches["b1"].Status)
	require.Equal(t, int64(3), repo.batches["b2"].Remaining)
	require.Equal(t, costing.BatchStatusActive, repo.batches["b2"].Status)

	require.Len(t, repo.movements, 1)
	movement := repo.movements[0]
	require.Equal(t, "b1", movement.PrimaryBatchID)
	require.Len(t, repo.lines[movement.ID], 2)
}

func TestConsumeFailureLeavesBatchesUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	seedBatch(t, repo, "b1", "p1", 10, "100", time.Now())

	_, err := svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 15, Method: costing.MethodFIFO})
	var insufficient *costing.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(15), insufficient.Requested)
	require.Equal(t, int64(10), insufficient.Available)

	require.Equal(t, int64(10), repo.batches["b1"].Remaining)
	require.Empty(t, repo.movements)
}

func TestConsumeRetriesSerializationFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.failTx = 2
	svc := NewService(repo, nil, nil, nil, nil)
	seedBatch(t, repo, "b1", "p1", 10, "100", time.Now())

	result, err := svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 4, Method: costing.MethodFIFO})
	require.NoError(t, err)
	require.Equal(t, int64(6), repo.batches["b1"].Remaining)
	require.NotEmpty(t, result.MovementID)
}

func TestConsumeGivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := newMemoryRepo()
	repo.failTx = 5
	svc := NewService(repo, nil, nil, nil, nil)
	seedBatch(t, repo, "b1", "p1", 10, "100", time.Now())

	_, err := svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 4, Method: costing.MethodFIFO})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(10), repo.batches["b1"].Remaining)
}

func TestConsumeRequiresExplicitMethod(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	seedBatch(t, repo, "b1", "p1", 10, "100", time.Now())

	_, err := svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 1})
	require.ErrorIs(t, err, costing.ErrInvalidMethod)
}

func TestMarkBatchOnlySoftStatuses(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	seedBatch(t, repo, "b1", "p1", 10, "100", time.Now())

	require.ErrorIs(t, svc.MarkBatch(context.Background(), "b1", costing.BatchStatusActive, ""), ErrInvalidStatus)
	require.NoError(t, svc.MarkBatch(context.Background(), "b1", costing.BatchStatusDeleted, ""))
	require.Equal(t, costing.BatchStatusDeleted, repo.batches["b1"].Status)

	err := svc.MarkBatch(context.Background(), "missing", costing.BatchStatusDeleted, "")
	require.ErrorIs(t, err, ErrBatchNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStockWritesBumpSummaryCache(t *testing.T) {
	repo := newMemoryRepo()
	invalidator := &countingInvalidator{}
	svc := NewService(repo, nil, nil, nil, invalidator)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	batch, err := svc.Restock(context.Background(), RestockInput{ProductID: "p1", Quantity: 10, CostPrice: decimal.RequireFromString("100")})
	require.NoError(t, err)
	require.Equal(t, 1, invalidator.bumps)

	seedBatch(t, repo, "b1", "p1", 10, "100", base)
	_, err = svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 3, Method: costing.MethodFIFO})
	require.NoError(t, err)
	require.Equal(t, 2, invalidator.bumps)

	require.NoError(t, svc.MarkBatch(context.Background(), batch.ID, costing.BatchStatusCorrected, ""))
	require.Equal(t, 3, invalidator.bumps)

	_, err = svc.Consume(context.Background(), ConsumeInput{ProductID: "p1", Quantity: 100, Method: costing.MethodFIFO})
	require.Error(t, err)
	require.Equal(t, 3, invalidator.bumps)
}

func TestValueSkipsIneligibleBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	base := time.Now()
	seedBatch(t, repo, "b1", "p1", 10, "100", base)
	seedBatch(t, repo, "b2", "p1", 7, "50", base.Add(time.Hour))
	require.NoError(t, svc.MarkBatch(context.Background(), "b2", costing.BatchStatusCorrected, ""))

	value, err := svc.Value(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "1000", value)
}
