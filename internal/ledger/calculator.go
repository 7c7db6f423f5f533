// Package ledger computes financial aggregates over already-fetched
// collections. Every function is pure, order-insensitive and total: empty
// inputs yield zero and unresolvable references are excluded from the sum
// rather than raised, since summaries must render even over partially
// inconsistent historical data. Functions that exclude lines also return how
// many were dropped so callers can surface the count.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/costing"
)

// CostIndex maps a product id to its most recent recorded cost price.
type CostIndex map[string]decimal.Decimal

// BuildCostIndex folds a stock history into one lookup table, keeping the
// latest observation per product. Built once per aggregation request instead
// of rescanning the history for every sale line. Equal timestamps resolve on
// BatchID so the result does not depend on input ordering.
func BuildCostIndex(history []StockChange) CostIndex {
	index := make(CostIndex, len(history))
	latest := make(map[string]StockChange, len(history))
	for _, change := range history {
		if change.ProductID == "" {
			continue
		}
		current, ok := latest[change.ProductID]
		if !ok || supersedes(change, current) {
			latest[change.ProductID] = change
			index[change.ProductID] = change.CostPrice
		}
	}
	return index
}

func supersedes(change, current StockChange) bool {
	if !change.RecordedAt.Equal(current.RecordedAt) {
		return change.RecordedAt.After(current.RecordedAt)
	}
	return change.BatchID > current.BatchID
}

// TotalProfit sums (negotiated or base price minus unit cost) × quantity over
// every sale line. Lines whose product or cost price cannot be resolved
// contribute zero; the second return value counts them.
func TotalProfit(sales []Sale, products []Product, history []StockChange) (decimal.Decimal, int) {
	known := make(map[string]struct{}, len(products))
	for _, p := range products {
		known[p.ID] = struct{}{}
	}
	costs := BuildCostIndex(history)

	total := decimal.Zero
	excluded := 0
	for _, sale := range sales {
		for _, line := range sale.Lines {
			if _, ok := known[line.ProductID]; !ok {
				excluded++
				continue
			}
			unitCost, ok := costs[line.ProductID]
			if !ok {
				excluded++
				continue
			}
			price := line.BasePrice
			if line.NegotiatedPrice != nil {
				price = *line.NegotiatedPrice
			}
			margin := price.Sub(unitCost).Mul(decimal.NewFromInt(line.Quantity))
			total = total.Add(margin)
		}
	}
	return total, excluded
}

// TotalExpenses sums all expense amounts plus the absolute value of every
// negative manual entry. Positive manual entries are income, not expense.
func TotalExpenses(expenses []Expense, manual []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	for _, entry := range manual {
		if entry.Source != SourceManual {
			continue
		}
		if entry.Amount.IsNegative() {
			total = total.Add(entry.Amount.Abs())
		}
	}
	return total
}

// Solde computes the account balance: every entry outside the reserved
// debt/refund types, plus net outstanding customer debt. Supplier-side types
// are excluded entirely; they reconcile in the supplier ledger.
func Solde(entries []Entry, debts []Entry, refunds []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		switch entry.Type {
		case TypeDebt, TypeRefund, TypeSupplierDebt, TypeSupplierRefund:
			continue
		}
		total = total.Add(entry.Amount)
	}
	outstanding, _ := OutstandingDebt(debts, refunds)
	return total.Add(outstanding)
}

// StockValue sums cost price × remaining quantity over eligible batches.
// Depleted, corrected and deleted batches contribute zero.
func StockValue(batches []costing.Batch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if !b.Eligible() {
			continue
		}
		total = total.Add(b.CostPrice.Mul(decimal.NewFromInt(b.Remaining)))
	}
	return total
}

// OutstandingDebt nets customer refunds against the debts they reference and
// sums the remainder, clamping each debt at zero so an over-refund never
// reports negative. Refunds with no matching debt are ignored; the second
// return value counts them.
func OutstandingDebt(debts []Entry, refunds []Entry) (decimal.Decimal, int) {
	return netOutstanding(debts, refunds, TypeDebt, TypeRefund)
}

// SupplierOutstandingDebt applies the same netting to the supplier ledger
// types. Kept separate from OutstandingDebt because the two sides never mix
// in the solde.
func SupplierOutstandingDebt(debts []Entry, refunds []Entry) (decimal.Decimal, int) {
	return netOutstanding(debts, refunds, TypeSupplierDebt, TypeSupplierRefund)
}

func netOutstanding(debts []Entry, refunds []Entry, debtType, refundType string) (decimal.Decimal, int) {
	debtIDs := make(map[string]struct{}, len(debts))
	for _, debt := range debts {
		if debt.Type == debtType && debt.ID != "" {
			debtIDs[debt.ID] = struct{}{}
		}
	}

	refunded := make(map[string]decimal.Decimal, len(refunds))
	orphans := 0
	for _, refund := range refunds {
		if refund.Type != refundType {
			continue
		}
		if _, ok := debtIDs[refund.RefundedDebtID]; !ok {
			orphans++
			continue
		}
		sum, ok := refunded[refund.RefundedDebtID]
		if !ok {
			sum = decimal.Zero
		}
		refunded[refund.RefundedDebtID] = sum.Add(refund.Amount)
	}

	total := decimal.Zero
	for _, debt := range debts {
		if debt.Type != debtType {
			continue
		}
		net := debt.Amount
		if sum, ok := refunded[debt.ID]; ok {
			net = net.Sub(sum)
		}
		if net.IsNegative() {
			net = decimal.Zero
		}
		total = total.Add(net)
	}
	return total, orphans
}
