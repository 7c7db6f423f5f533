package finance

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/ledger"
)

// Repository persists finance data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEntry stores one ledger entry.
func (r *Repository) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO finance_entries (id, source, type, amount, refunded_debt_id, label, recorded_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7)`,
		entry.ID, string(entry.Source), entry.Type, entry.Amount, entry.RefundedDebtID, entry.Label, entry.RecordedAt)
	return err
}

// ListEntries returns entries inside the window, unbounded sides included.
func (r *Repository) ListEntries(ctx context.Context, window Range) ([]ledger.Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, source, type, amount, COALESCE(refunded_debt_id,''), label, recorded_at
FROM finance_entries
WHERE recorded_at BETWEEN COALESCE(NULLIF($1, '0001-01-01T00:00:00Z'::timestamptz), '-infinity') AND COALESCE(NULLIF($2, '0001-01-01T00:00:00Z'::timestamptz), 'infinity')
ORDER BY recorded_at ASC`, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListEntriesByType returns all entries of one type, window-independent:
// debt netting must see the full history or refunds could outlive the debts
// they repay.
func (r *Repository) ListEntriesByType(ctx context.Context, entryType string) ([]ledger.Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, source, type, amount, COALESCE(refunded_debt_id,''), label, recorded_at
FROM finance_entries WHERE type=$1 ORDER BY recorded_at ASC`, entryType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListExpenses returns expenses inside the window.
func (r *Repository) ListExpenses(ctx context.Context, window Range) ([]ledger.Expense, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, amount, label, recorded_at
FROM expenses
WHERE recorded_at BETWEEN COALESCE(NULLIF($1, '0001-01-01T00:00:00Z'::timestamptz), '-infinity') AND COALESCE(NULLIF($2, '0001-01-01T00:00:00Z'::timestamptz), 'infinity')
ORDER BY recorded_at ASC`, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	expenses := []ledger.Expense{}
	for rows.Next() {
		var e ledger.Expense
		if err := rows.Scan(&e.ID, &e.Amount, &e.Label, &e.RecordedAt); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// ListSales returns sales with their product lines inside the window.
func (r *Repository) ListSales(ctx context.Context, window Range) ([]ledger.Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.recorded_at, l.product_id, l.quantity, l.base_price, l.negotiated_price
FROM sales s JOIN sale_lines l ON l.sale_id = s.id
WHERE s.recorded_at BETWEEN COALESCE(NULLIF($1, '0001-01-01T00:00:00Z'::timestamptz), '-infinity') AND COALESCE(NULLIF($2, '0001-01-01T00:00:00Z'::timestamptz), 'infinity')
ORDER BY s.recorded_at ASC, s.id ASC`, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := map[string]int{}
	sales := []ledger.Sale{}
	for rows.Next() {
		var saleID string
		var sale ledger.Sale
		var line ledger.SaleLine
		var negotiated *decimal.Decimal
		if err := rows.Scan(&saleID, &sale.RecordedAt, &line.ProductID, &line.Quantity, &line.BasePrice, &negotiated); err != nil {
			return nil, err
		}
		line.NegotiatedPrice = negotiated
		pos, ok := index[saleID]
		if !ok {
			sale.ID = saleID
			sales = append(sales, sale)
			pos = len(sales) - 1
			index[saleID] = pos
		}
		sales[pos].Lines = append(sales[pos].Lines, line)
	}
	return sales, rows.Err()
}

// ListProducts returns the product catalogue for id resolution.
func (r *Repository) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM products`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []ledger.Product{}
	for rows.Next() {
		var p ledger.Product
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListStockHistory returns every cost price observation, batch acquisitions
// being the recording events.
func (r *Repository) ListStockHistory(ctx context.Context) ([]ledger.StockChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, cost_price, acquired_at FROM stock_batches ORDER BY acquired_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	history := []ledger.StockChange{}
	for rows.Next() {
		var change ledger.StockChange
		if err := rows.Scan(&change.BatchID, &change.ProductID, &change.CostPrice, &change.RecordedAt); err != nil {
			return nil, err
		}
		history = append(history, change)
	}
	return history, rows.Err()
}

// ListBatches returns every batch for stock valuation.
func (r *Repository) ListBatches(ctx context.Context) ([]costing.Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, quantity, remaining, cost_price, acquired_at, status FROM stock_batches`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []costing.Batch{}
	for rows.Next() {
		var b costing.Batch
		var status string
		if err := rows.Scan(&b.ID, &b.Quantity, &b.Remaining, &b.CostPrice, &b.AcquiredAt, &status); err != nil {
			return nil, err
		}
		b.Status = costing.BatchStatus(status)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	entries := []ledger.Entry{}
	for rows.Next() {
		var entry ledger.Entry
		var source string
		if err := rows.Scan(&entry.ID, &source, &entry.Type, &entry.Amount, &entry.RefundedDebtID, &entry.Label, &entry.RecordedAt); err != nil {
			return nil, err
		}
		entry.Source = ledger.SourceType(source)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
