package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType tells which business event produced a ledger entry.
type SourceType string

const (
	SourceSale     SourceType = "sale"
	SourceExpense  SourceType = "expense"
	SourceManual   SourceType = "manual"
	SourceSupplier SourceType = "supplier"
)

// Reserved entry type values. Entry.Type is otherwise a free-form category
// string; these four drive the debt netting and the solde exclusion set.
const (
	TypeDebt           = "debt"
	TypeRefund         = "refund"
	TypeSupplierDebt   = "supplier_debt"
	TypeSupplierRefund = "supplier_refund"
)

// Entry is one ledger line. Entries are logically immutable once created;
// corrections are recorded as new entries.
type Entry struct {
	ID             string
	Source         SourceType
	Type           string
	Amount         decimal.Decimal
	RefundedDebtID string
	Label          string
	RecordedAt     time.Time
}

// SaleLine is one product line inside a sale. NegotiatedPrice, when set,
// replaces BasePrice in profit computations.
type SaleLine struct {
	ProductID       string
	Quantity        int64
	BasePrice       decimal.Decimal
	NegotiatedPrice *decimal.Decimal
}

// Sale embeds the product lines sold in one transaction.
type Sale struct {
	ID         string
	Lines      []SaleLine
	RecordedAt time.Time
}

// Expense is one recorded outgoing.
type Expense struct {
	ID         string
	Amount     decimal.Decimal
	Label      string
	RecordedAt time.Time
}

// Product carries the identity needed to resolve sale lines.
type Product struct {
	ID   string
	Name string
}

// StockChange is one cost-price observation in a product's stock history.
// BatchID identifies the batch the observation came from and breaks
// RecordedAt ties.
type StockChange struct {
	BatchID    string
	ProductID  string
	CostPrice  decimal.Decimal
	RecordedAt time.Time
}
