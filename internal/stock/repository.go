package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comptoir-erp/comptoir/internal/costing"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the consume path.
type TxRepository interface {
	ListBatchesForUpdate(ctx context.Context, productID string) ([]Batch, error)
	ApplyConsumption(ctx context.Context, batchID string, remaining int64, status costing.BatchStatus) error
	InsertMovement(ctx context.Context, movement Movement, lines []costing.Consumption) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// InsertBatch stores a new batch row.
func (r *Repository) InsertBatch(ctx context.Context, batch Batch) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO stock_batches (id, product_id, quantity, remaining, cost_price, acquired_at, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		batch.ID, batch.ProductID, batch.Quantity, batch.Remaining, batch.CostPrice, batch.AcquiredAt, string(batch.Status), batch.CreatedAt, batch.UpdatedAt)
	return err
}

// UpdateBatchStatus soft-marks a batch.
func (r *Repository) UpdateBatchStatus(ctx context.Context, batchID string, status costing.BatchStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_batches SET status=$2, updated_at=NOW() WHERE id=$1`, batchID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// ListBatches returns every batch of a product, oldest first.
func (r *Repository) ListBatches(ctx context.Context, productID string) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity, remaining, cost_price, acquired_at, status, created_at, updated_at
FROM stock_batches WHERE product_id=$1 ORDER BY acquired_at ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// ListMovements returns recent movements of a product, newest first.
func (r *Repository) ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity, method, unit_cost, total_cost, primary_batch_id, ref_module, ref_id, note, recorded_at
FROM stock_movements WHERE product_id=$1 ORDER BY recorded_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var method string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &method, &m.UnitCost, &m.TotalCost, &m.PrimaryBatchID, &m.RefModule, &m.RefID, &m.Note, &m.RecordedAt); err != nil {
			return nil, err
		}
		m.Method = costing.Method(method)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, productID string) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, quantity, remaining, cost_price, acquired_at, status, created_at, updated_at
FROM stock_batches WHERE product_id=$1 ORDER BY acquired_at ASC, id ASC FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *txRepository) ApplyConsumption(ctx context.Context, batchID string, remaining int64, status costing.BatchStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET remaining=$2, status=$3, updated_at=NOW() WHERE id=$1`, batchID, remaining, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement, lines []costing.Consumption) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (id, product_id, quantity, method, unit_cost, total_cost, primary_batch_id, ref_module, ref_id, note, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		movement.ID, movement.ProductID, movement.Quantity, string(movement.Method), movement.UnitCost, movement.TotalCost,
		movement.PrimaryBatchID, movement.RefModule, movement.RefID, movement.Note, movement.RecordedAt)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_movement_lines (movement_id, batch_id, cost_price, quantity, remaining)
VALUES ($1,$2,$3,$4,$5)`, movement.ID, line.BatchID, line.CostPrice, line.Quantity, line.Remaining); err != nil {
			return err
		}
	}
	return nil
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		var status string
		if err := rows.Scan(&b.ID, &b.ProductID, &b.Quantity, &b.Remaining, &b.CostPrice, &b.AcquiredAt, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Status = costing.BatchStatus(status)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
