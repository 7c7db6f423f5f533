package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/observability"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// consumeAttempts bounds the read-allocate-write retries after a
// serialization conflict. Each retry re-reads the batches from scratch; a
// stale allocation must never be replayed.
const consumeAttempts = 3

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertBatch(ctx context.Context, batch Batch) error
	UpdateBatchStatus(ctx context.Context, batchID string, status costing.BatchStatus) error
	ListBatches(ctx context.Context, productID string) ([]Batch, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator bumps downstream summary caches. Stock writes change the
// stock value and cost history those summaries aggregate, so readers must
// not keep serving the pre-write snapshot.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service coordinates stock operations around the batch allocator.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
	invalidator CacheInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics *observability.Metrics, invalidator CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, invalidator: invalidator}
}

// Restock creates a new active batch from a purchase.
func (s *Service) Restock(ctx context.Context, input RestockInput) (Batch, error) {
	if input.ProductID == "" {
		return Batch{}, ErrProductRequired
	}
	if input.Quantity < 1 {
		return Batch{}, costing.ErrInvalidQuantity
	}
	if input.CostPrice.IsNegative() {
		return Batch{}, errors.New("stock: cost price must be >= 0")
	}
	now := time.Now().UTC()
	batch := Batch{
		ID:         uuid.NewString(),
		ProductID:  input.ProductID,
		Quantity:   input.Quantity,
		Remaining:  input.Quantity,
		CostPrice:  input.CostPrice,
		AcquiredAt: now,
		Status:     costing.BatchStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertBatch(ctx, batch); err != nil {
		return Batch{}, err
	}
	s.bumpCaches(ctx)
	s.recordAudit(ctx, input.ActorID, "stock:restock", batch.ID, map[string]any{
		"product_id": input.ProductID,
		"quantity":   input.Quantity,
		"cost_price": input.CostPrice.String(),
	})
	return batch, nil
}

// Consume runs the read-allocate-write cycle: load the product's batches
// inside a transaction, allocate under the requested method, persist the new
// remaining quantities and the movement. Allocation errors abort the
// transaction with no batch mutation applied.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if input.ProductID == "" {
		return ConsumeResult{}, ErrProductRequired
	}
	if !input.Method.IsValid() {
		return ConsumeResult{}, costing.ErrInvalidMethod
	}
	if input.Quantity <= 0 {
		return ConsumeResult{}, costing.ErrInvalidQuantity
	}

	insertedKey := false
	key := ""
	if s.idempotency != nil && input.RefID != "" {
		key = fmt.Sprintf("consume:%s:%s:%s", input.RefModule, input.RefID, input.ProductID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return ConsumeResult{}, err
		}
		insertedKey = true
	}

	var result ConsumeResult
	var err error
	for attempt := 0; attempt < consumeAttempts; attempt++ {
		result, err = s.consumeOnce(ctx, input)
		if err == nil || !isSerializationFailure(err) {
			break
		}
	}
	if err != nil && isSerializationFailure(err) {
		err = fmt.Errorf("stock: consume contention persisted after %d attempts: %w", consumeAttempts, shared.ErrConflict)
	}
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.metrics.AllocationRejected(failureReason(err))
		return ConsumeResult{}, err
	}

	s.metrics.AllocationApplied(input.Method.String())
	s.bumpCaches(ctx)
	s.recordAudit(ctx, input.ActorID, "stock:consume", result.MovementID, map[string]any{
		"product_id": input.ProductID,
		"quantity":   input.Quantity,
		"method":     input.Method.String(),
		"total_cost": result.Allocation.TotalCost.String(),
	})
	return result, nil
}

func (s *Service) consumeOnce(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	var result ConsumeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ListBatchesForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		lots := make([]costing.Batch, len(batches))
		for i, b := range batches {
			lots[i] = b.Costing()
		}
		alloc, err := costing.Allocate(lots, input.Quantity, input.Method)
		if err != nil {
			return err
		}
		for _, line := range alloc.Consumed {
			status := costing.BatchStatusActive
			if line.Remaining == 0 {
				status = costing.BatchStatusDepleted
			}
			if err := tx.ApplyConsumption(ctx, line.BatchID, line.Remaining, status); err != nil {
				return err
			}
		}
		movement := Movement{
			ID:             uuid.NewString(),
			ProductID:      input.ProductID,
			Quantity:       input.Quantity,
			Method:         input.Method,
			UnitCost:       alloc.AverageCost,
			TotalCost:      alloc.TotalCost,
			PrimaryBatchID: alloc.PrimaryBatchID,
			RefModule:      input.RefModule,
			RefID:          input.RefID,
			Note:           input.Note,
			RecordedAt:     time.Now().UTC(),
		}
		if err := tx.InsertMovement(ctx, movement, alloc.Consumed); err != nil {
			return err
		}
		result = ConsumeResult{Allocation: alloc, MovementID: movement.ID}
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return result, nil
}

// MarkBatch soft-marks a batch corrected or deleted.
func (s *Service) MarkBatch(ctx context.Context, batchID string, status costing.BatchStatus, actorID string) error {
	if batchID == "" {
		return ErrBatchNotFound
	}
	if status != costing.BatchStatusCorrected && status != costing.BatchStatusDeleted {
		return ErrInvalidStatus
	}
	if err := s.repo.UpdateBatchStatus(ctx, batchID, status); err != nil {
		return err
	}
	s.bumpCaches(ctx)
	s.recordAudit(ctx, actorID, "stock:mark", batchID, map[string]any{"status": string(status)})
	return nil
}

// ListBatches returns the batches of a product, history included.
func (s *Service) ListBatches(ctx context.Context, productID string) ([]Batch, error) {
	if productID == "" {
		return nil, ErrProductRequired
	}
	return s.repo.ListBatches(ctx, productID)
}

// ListMovements returns recent movements for a product.
func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error) {
	if productID == "" {
		return nil, ErrProductRequired
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

// Value computes the purchase value of a product's remaining stock.
func (s *Service) Value(ctx context.Context, productID string) (string, error) {
	batches, err := s.ListBatches(ctx, productID)
	if err != nil {
		return "", err
	}
	lots := make([]costing.Batch, len(batches))
	for i, b := range batches {
		lots[i] = b.Costing()
	}
	return ledger.StockValue(lots).String(), nil
}

func (s *Service) bumpCaches(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	_ = s.invalidator.Bump(ctx)
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_batch",
		EntityID: entityID,
		Meta:     meta,
	})
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func failureReason(err error) string {
	var insufficient *costing.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.Is(err, costing.ErrNoStock):
		return "no_stock"
	case errors.Is(err, costing.ErrInvalidQuantity), errors.Is(err, costing.ErrInvalidMethod):
		return "invalid_input"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
