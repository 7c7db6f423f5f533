package finance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	_ "github.com/comptoir-erp/comptoir/testing"
)

type memoryRepo struct {
	entries  []ledger.Entry
	expenses []ledger.Expense
	sales    []ledger.Sale
	products []ledger.Product
	history  []ledger.StockChange
	batches  []costing.Batch
	loads    int
}

func (r *memoryRepo) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, window Range) ([]ledger.Entry, error) {
	r.loads++
	return append([]ledger.Entry{}, r.entries...), nil
}

func (r *memoryRepo) ListEntriesByType(ctx context.Context, entryType string) ([]ledger.Entry, error) {
	result := []ledger.Entry{}
	for _, entry := range r.entries {
		if entry.Type == entryType {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (r *memoryRepo) ListExpenses(ctx context.Context, window Range) ([]ledger.Expense, error) {
	return r.expenses, nil
}

func (r *memoryRepo) ListSales(ctx context.Context, window Range) ([]ledger.Sale, error) {
	return r.sales, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	return r.products, nil
}

func (r *memoryRepo) ListStockHistory(ctx context.Context) ([]ledger.StockChange, error) {
	return r.history, nil
}

func (r *memoryRepo) ListBatches(ctx context.Context) ([]costing.Batch, error) {
	return r.batches, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecordEntryValidation(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordEntry(ctx, EntryInput{Source: "payroll", Type: "misc", Amount: dec("10")})
	require.ErrorIs(t, err, ErrUnknownSource)

	_, err = svc.RecordEntry(ctx, EntryInput{Source: "manual", Type: "misc", Amount: decimal.Zero})
	require.ErrorIs(t, err, ErrAmountRequired)

	_, err = svc.RecordEntry(ctx, EntryInput{Source: "sale", Type: ledger.TypeRefund, Amount: dec("10")})
	require.ErrorIs(t, err, ErrDebtReferenceRequired)

	entry, err := svc.RecordEntry(ctx, EntryInput{Source: "sale", Type: "sale", Amount: dec("5000")})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.Len(t, repo.entries, 1)
}

func seededRepo() *memoryRepo {
	now := time.Now().UTC()
	negotiated := dec("140")
	return &memoryRepo{
		entries: []ledger.Entry{
			{ID: "e1", Source: ledger.SourceSale, Type: "sale", Amount: dec("5000"), RecordedAt: now},
			{ID: "e2", Source: ledger.SourceManual, Type: "manual", Amount: dec("-300"), RecordedAt: now},
			{ID: "d1", Source: ledger.SourceSale, Type: ledger.TypeDebt, Amount: dec("2000"), RecordedAt: now},
			{ID: "r1", Source: ledger.SourceSale, Type: ledger.TypeRefund, Amount: dec("500"), RefundedDebtID: "d1", RecordedAt: now},
			{ID: "sd1", Source: ledger.SourceSupplier, Type: ledger.TypeSupplierDebt, Amount: dec("1000"), RecordedAt: now},
		},
		expenses: []ledger.Expense{{ID: "x1", Amount: dec("700"), RecordedAt: now}},
		sales: []ledger.Sale{{
			ID: "s1",
			Lines: []ledger.SaleLine{
				{ProductID: "p1", Quantity: 2, BasePrice: dec("150"), NegotiatedPrice: &negotiated},
				{ProductID: "ghost", Quantity: 1, BasePrice: dec("80")},
			},
			RecordedAt: now,
		}},
		products: []ledger.Product{{ID: "p1", Name: "Sac"}},
		history:  []ledger.StockChange{{ProductID: "p1", CostPrice: dec("100"), RecordedAt: now}},
		batches: []costing.Batch{
			{ID: "b1", Remaining: 10, CostPrice: dec("100"), Status: costing.BatchStatusActive, AcquiredAt: now},
			{ID: "b2", Remaining: 3, CostPrice: dec("60"), Status: costing.BatchStatusDeleted, AcquiredAt: now},
		},
	}
}

func TestSummaryAggregates(t *testing.T) {
	svc := NewService(seededRepo(), nil, nil)

	summary, err := svc.Summary(context.Background(), Range{})
	require.NoError(t, err)

	// (140-100)*2, ghost line excluded
	require.True(t, summary.Profit.Equal(dec("80")), "profit %s", summary.Profit)
	require.Equal(t, 1, summary.ExcludedSaleLines)
	// 700 expense + |-300| manual
	require.True(t, summary.Expenses.Equal(dec("1000")))
	// 5000 - 300 + (2000-500) outstanding; debt, refund and supplier types excluded from base
	require.True(t, summary.Solde.Equal(dec("6200")), "solde %s", summary.Solde)
	require.True(t, summary.StockValue.Equal(dec("1000")))
	require.True(t, summary.OutstandingDebt.Equal(dec("1500")))
	require.True(t, summary.SupplierDebt.Equal(dec("1000")))
}

func TestSummaryCachedUntilWrite(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	repo := seededRepo()
	svc := NewService(repo, nil, NewCache(client, time.Minute))
	ctx := context.Background()

	_, err := svc.Summary(ctx, Range{})
	require.NoError(t, err)
	loadsAfterFirst := repo.loads

	_, err = svc.Summary(ctx, Range{})
	require.NoError(t, err)
	require.Equal(t, loadsAfterFirst, repo.loads, "second read must come from cache")

	_, err = svc.RecordEntry(ctx, EntryInput{Source: "manual", Type: "manual", Amount: dec("250")})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, Range{})
	require.NoError(t, err)
	require.Greater(t, repo.loads, loadsAfterFirst, "write must invalidate the cache")
	require.True(t, summary.Solde.Equal(dec("6450")))
}
