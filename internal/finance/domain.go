package finance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntryInput describes a new ledger entry. Entries are immutable once
// recorded; corrections are recorded as new entries.
type EntryInput struct {
	Source         string
	Type           string
	Amount         decimal.Decimal
	RefundedDebtID string
	Label          string
	ActorID        string
}

// Range bounds an aggregation window. Zero values mean unbounded.
type Range struct {
	From time.Time
	To   time.Time
}

// Summary is the financial snapshot served to callers.
type Summary struct {
	Profit            decimal.Decimal `json:"profit"`
	Expenses          decimal.Decimal `json:"expenses"`
	Solde             decimal.Decimal `json:"solde"`
	StockValue        decimal.Decimal `json:"stock_value"`
	OutstandingDebt   decimal.Decimal `json:"outstanding_debt"`
	SupplierDebt      decimal.Decimal `json:"supplier_debt"`
	ExcludedSaleLines int             `json:"excluded_sale_lines"`
	OrphanRefunds     int             `json:"orphan_refunds"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// ErrUnknownSource indicates an unsupported entry source type.
var ErrUnknownSource = errors.New("finance: unknown source type")

// ErrAmountRequired indicates a zero entry amount.
var ErrAmountRequired = errors.New("finance: amount must be non-zero")

// ErrDebtReferenceRequired indicates a refund without its originating debt.
var ErrDebtReferenceRequired = errors.New("finance: refund entries must reference the debt they repay")
