package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// RepositoryPort abstracts persistence for the finance service.
type RepositoryPort interface {
	InsertEntry(ctx context.Context, entry ledger.Entry) error
	ListEntries(ctx context.Context, window Range) ([]ledger.Entry, error)
	ListEntriesByType(ctx context.Context, entryType string) ([]ledger.Entry, error)
	ListExpenses(ctx context.Context, window Range) ([]ledger.Expense, error)
	ListSales(ctx context.Context, window Range) ([]ledger.Sale, error)
	ListProducts(ctx context.Context) ([]ledger.Product, error)
	ListStockHistory(ctx context.Context) ([]ledger.StockChange, error)
	ListBatches(ctx context.Context) ([]costing.Batch, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records ledger entries and serves financial summaries.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *Cache
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

var validSources = map[string]ledger.SourceType{
	string(ledger.SourceSale):     ledger.SourceSale,
	string(ledger.SourceExpense):  ledger.SourceExpense,
	string(ledger.SourceManual):   ledger.SourceManual,
	string(ledger.SourceSupplier): ledger.SourceSupplier,
}

// RecordEntry validates and persists one ledger entry, then invalidates the
// summary cache.
func (s *Service) RecordEntry(ctx context.Context, input EntryInput) (ledger.Entry, error) {
	source, ok := validSources[input.Source]
	if !ok {
		return ledger.Entry{}, ErrUnknownSource
	}
	if input.Amount.IsZero() {
		return ledger.Entry{}, ErrAmountRequired
	}
	if (input.Type == ledger.TypeRefund || input.Type == ledger.TypeSupplierRefund) && input.RefundedDebtID == "" {
		return ledger.Entry{}, ErrDebtReferenceRequired
	}
	entry := ledger.Entry{
		ID:             uuid.NewString(),
		Source:         source,
		Type:           input.Type,
		Amount:         input.Amount,
		RefundedDebtID: input.RefundedDebtID,
		Label:          input.Label,
		RecordedAt:     time.Now().UTC(),
	}
	if err := s.repo.InsertEntry(ctx, entry); err != nil {
		return ledger.Entry{}, err
	}
	_ = s.cache.Bump(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "finance:entry",
			Entity:   "finance_entry",
			EntityID: entry.ID,
			Meta: map[string]any{
				"source": input.Source,
				"type":   input.Type,
				"amount": input.Amount.String(),
			},
		})
	}
	return entry, nil
}

// ListEntries returns entries inside the window.
func (s *Service) ListEntries(ctx context.Context, window Range) ([]ledger.Entry, error) {
	return s.repo.ListEntries(ctx, window)
}

// Summary aggregates the ledger over the window, serving from cache when the
// cache version has not moved since the last write.
func (s *Service) Summary(ctx context.Context, window Range) (Summary, error) {
	key, err := s.cache.BuildKey(ctx, "finance", "summary", rangeKey(window))
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	err = s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
		return s.computeSummary(ctx, window)
	})
	return summary, err
}

func (s *Service) computeSummary(ctx context.Context, window Range) (Summary, error) {
	var (
		entries  []ledger.Entry
		debts    []ledger.Entry
		refunds  []ledger.Entry
		supDebts []ledger.Entry
		supRefs  []ledger.Entry
		expenses []ledger.Expense
		sales    []ledger.Sale
		products []ledger.Product
		history  []ledger.StockChange
		batches  []costing.Batch
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { entries, err = s.repo.ListEntries(gctx, window); return })
	g.Go(func() (err error) { debts, err = s.repo.ListEntriesByType(gctx, ledger.TypeDebt); return })
	g.Go(func() (err error) { refunds, err = s.repo.ListEntriesByType(gctx, ledger.TypeRefund); return })
	g.Go(func() (err error) { supDebts, err = s.repo.ListEntriesByType(gctx, ledger.TypeSupplierDebt); return })
	g.Go(func() (err error) { supRefs, err = s.repo.ListEntriesByType(gctx, ledger.TypeSupplierRefund); return })
	g.Go(func() (err error) { expenses, err = s.repo.ListExpenses(gctx, window); return })
	g.Go(func() (err error) { sales, err = s.repo.ListSales(gctx, window); return })
	g.Go(func() (err error) { products, err = s.repo.ListProducts(gctx); return })
	g.Go(func() (err error) { history, err = s.repo.ListStockHistory(gctx); return })
	g.Go(func() (err error) { batches, err = s.repo.ListBatches(gctx); return })
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	manual := make([]ledger.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Source == ledger.SourceManual {
			manual = append(manual, entry)
		}
	}

	profit, excludedLines := ledger.TotalProfit(sales, products, history)
	outstanding, orphans := ledger.OutstandingDebt(debts, refunds)
	supplierDebt, _ := ledger.SupplierOutstandingDebt(supDebts, supRefs)

	return Summary{
		Profit:            profit,
		Expenses:          ledger.TotalExpenses(expenses, manual),
		Solde:             ledger.Solde(entries, debts, refunds),
		StockValue:        ledger.StockValue(batches),
		OutstandingDebt:   outstanding,
		SupplierDebt:      supplierDebt,
		ExcludedSaleLines: excludedLines,
		OrphanRefunds:     orphans,
		GeneratedAt:       time.Now().UTC(),
	}, nil
}

func rangeKey(window Range) string {
	from, to := "all", "all"
	if !window.From.IsZero() {
		from = window.From.UTC().Format("20060102")
	}
	if !window.To.IsZero() {
		to = window.To.UTC().Format("20060102")
	}
	return fmt.Sprintf("%s-%s", from, to)
}
