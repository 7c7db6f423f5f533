package costing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Method enumerates supported costing policies.
type Method string

const (
	// MethodFIFO consumes the oldest acquired batch first.
	MethodFIFO Method = "FIFO"
	// MethodLIFO consumes the most recently acquired batch first.
	MethodLIFO Method = "LIFO"
	// MethodCMUP costs every consumed unit at the weighted average over all
	// eligible batches, regardless of which physical batch it is drawn from.
	MethodCMUP Method = "CMUP"
)

// IsValid reports whether the method is one of the supported policies.
func (m Method) IsValid() bool {
	switch m {
	case MethodFIFO, MethodLIFO, MethodCMUP:
		return true
	default:
		return false
	}
}

// String returns the string representation of the method.
func (m Method) String() string {
	return string(m)
}

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	// BatchStatusActive means the batch can still be consumed.
	BatchStatusActive BatchStatus = "active"
	// BatchStatusDepleted means remaining quantity reached zero.
	BatchStatusDepleted BatchStatus = "depleted"
	// BatchStatusCorrected marks a batch superseded by a correction.
	BatchStatusCorrected BatchStatus = "corrected"
	// BatchStatusDeleted marks a soft-deleted batch kept for history.
	BatchStatusDeleted BatchStatus = "deleted"
)

// Batch is one purchase lot of a product.
type Batch struct {
	ID         string
	Quantity   int64
	Remaining  int64
	CostPrice  decimal.Decimal
	AcquiredAt time.Time
	Status     BatchStatus
}

// Eligible reports whether the batch may be consumed or counted in stock
// value. Both the allocator and the valuation aggregate use this predicate so
// the eligibility rule cannot drift between them.
func (b Batch) Eligible() bool {
	return b.Status == BatchStatusActive && b.Remaining > 0
}

// Consumption is one allocation result line. Remaining holds the
// post-consumption value for the caller to persist back onto the batch.
type Consumption struct {
	BatchID   string
	CostPrice decimal.Decimal
	Quantity  int64
	Remaining int64
}

// Allocation is the result of a successful allocation.
type Allocation struct {
	Consumed       []Consumption
	TotalCost      decimal.Decimal
	AverageCost    decimal.Decimal
	PrimaryBatchID string
}

// ErrNoStock indicates that no eligible batch exists at all. Kept distinct
// from InsufficientStockError because it usually means the product was never
// restocked rather than ordinarily depleted.
var ErrNoStock = errors.New("costing: no eligible stock batches")

// ErrInvalidQuantity indicates a non-positive requested quantity.
var ErrInvalidQuantity = errors.New("costing: quantity must be positive")

// ErrInvalidMethod indicates an unknown costing method.
var ErrInvalidMethod = errors.New("costing: unknown costing method")

// InsufficientStockError reports a request exceeding available stock.
type InsufficientStockError struct {
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("costing: insufficient stock: requested %d, available %d", e.Requested, e.Available)
}
