package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/costing"
	"github.com/comptoir-erp/comptoir/internal/shared"
)

// Batch is one purchase lot of a product as persisted. Batches are never
// physically removed; corrections and removals only flip the status.
type Batch struct {
	ID         string
	ProductID  string
	Quantity   int64
	Remaining  int64
	CostPrice  decimal.Decimal
	AcquiredAt time.Time
	Status     costing.BatchStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Costing converts the persisted batch into the allocator's input shape.
func (b Batch) Costing() costing.Batch {
	return costing.Batch{
		ID:         b.ID,
		Quantity:   b.Quantity,
		Remaining:  b.Remaining,
		CostPrice:  b.CostPrice,
		AcquiredAt: b.AcquiredAt,
		Status:     b.Status,
	}
}

// Movement records one stock consumption with its resolved costing.
type Movement struct {
	ID             string
	ProductID      string
	Quantity       int64
	Method         costing.Method
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	PrimaryBatchID string
	RefModule      string
	RefID          string
	Note           string
	RecordedAt     time.Time
}

// RestockInput describes a purchase creating a new batch.
type RestockInput struct {
	ProductID string
	Quantity  int64
	CostPrice decimal.Decimal
	Note      string
	ActorID   string
}

// ConsumeInput describes a withdrawal request. Method is required; callers
// that want a default must pass it explicitly.
type ConsumeInput struct {
	ProductID string
	Quantity  int64
	Method    costing.Method
	RefModule string
	RefID     string
	Note      string
	ActorID   string
}

// ConsumeResult carries the allocation and the movement it was recorded as.
type ConsumeResult struct {
	Allocation costing.Allocation
	MovementID string
}

// ErrProductRequired indicates a missing product reference.
var ErrProductRequired = errors.New("stock: product id required")

// ErrBatchNotFound indicates an unknown batch id.
var ErrBatchNotFound = fmt.Errorf("stock: batch not found: %w", shared.ErrNotFound)

// ErrInvalidStatus indicates a status transition outside the soft-mark set.
var ErrInvalidStatus = errors.New("stock: batches can only be marked corrected or deleted")
