package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir/internal/costing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildCostIndexKeepsLatest(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	index := BuildCostIndex([]StockChange{
		{ProductID: "p1", CostPrice: dec("100"), RecordedAt: base},
		{ProductID: "p1", CostPrice: dec("110"), RecordedAt: base.Add(48 * time.Hour)},
		{ProductID: "p1", CostPrice: dec("105"), RecordedAt: base.Add(24 * time.Hour)},
		{ProductID: "p2", CostPrice: dec("40"), RecordedAt: base},
	})
	require.True(t, index["p1"].Equal(dec("110")))
	require.True(t, index["p2"].Equal(dec("40")))
}

func TestBuildCostIndexTieBreaksOnBatchID(t *testing.T) {
	at := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	a := StockChange{BatchID: "b1", ProductID: "p1", CostPrice: dec("100"), RecordedAt: at}
	b := StockChange{BatchID: "b2", ProductID: "p1", CostPrice: dec("130"), RecordedAt: at}

	forward := BuildCostIndex([]StockChange{a, b})
	reverse := BuildCostIndex([]StockChange{b, a})

	require.True(t, forward["p1"].Equal(dec("130")))
	require.True(t, reverse["p1"].Equal(dec("130")))
}

func TestTotalProfit(t *testing.T) {
	now := time.Now()
	sales := []Sale{{
		ID: "s1",
		Lines: []SaleLine{
			{ProductID: "p1", Quantity: 2, BasePrice: dec("150")},
			{ProductID: "p2", Quantity: 3, BasePrice: dec("200")},
		},
	}}
	products := []Product{{ID: "p1"}, {ID: "p2"}}
	history := []StockChange{
		{ProductID: "p1", CostPrice: dec("100"), RecordedAt: now},
		{ProductID: "p2", CostPrice: dec("150"), RecordedAt: now},
	}

	total, excluded := TotalProfit(sales, products, history)
	// (150-100)*2 + (200-150)*3
	require.True(t, total.Equal(dec("250")))
	require.Zero(t, excluded)
}

func TestTotalProfitNegotiatedPricePrecedence(t *testing.T) {
	now := time.Now()
	negotiated := dec("140")
	sales := []Sale{{
		ID:    "s1",
		Lines: []SaleLine{{ProductID: "p1", Quantity: 2, BasePrice: dec("150"), NegotiatedPrice: &negotiated}},
	}}
	history := []StockChange{{ProductID: "p1", CostPrice: dec("100"), RecordedAt: now}}

	total, _ := TotalProfit(sales, []Product{{ID: "p1"}}, history)
	require.True(t, total.Equal(dec("80")))
}

func TestTotalProfitExcludesUnresolvableLines(t *testing.T) {
	now := time.Now()
	sales := []Sale{{
		ID: "s1",
		Lines: []SaleLine{
			{ProductID: "deleted", Quantity: 5, BasePrice: dec("99")},
			{ProductID: "uncosted", Quantity: 5, BasePrice: dec("99")},
			{ProductID: "p1", Quantity: 1, BasePrice: dec("150")},
		},
	}}
	products := []Product{{ID: "p1"}, {ID: "uncosted"}}
	history := []StockChange{{ProductID: "p1", CostPrice: dec("100"), RecordedAt: now}}

	total, excluded := TotalProfit(sales, products, history)
	require.True(t, total.Equal(dec("50")))
	require.Equal(t, 2, excluded)
}

func TestTotalExpenses(t *testing.T) {
	expenses := []Expense{{Amount: dec("1000")}, {Amount: dec("250")}}
	manual := []Entry{
		{Source: SourceManual, Amount: dec("-300")},
		{Source: SourceManual, Amount: dec("500")},
	}
	require.True(t, TotalExpenses(expenses, manual).Equal(dec("1550")))
}

func TestSoldeExclusionSet(t *testing.T) {
	entries := []Entry{
		{Type: "sale", Amount: dec("5000")},
		{Type: TypeDebt, Amount: dec("3000")},
		{Type: "manual", Amount: dec("2000")},
	}
	// Debt entry excluded from the base sum and not re-added because it is
	// not passed as a debt argument.
	require.True(t, Solde(entries, nil, nil).Equal(dec("7000")))
}

func TestSoldeAddsOutstandingDebt(t *testing.T) {
	entries := []Entry{
		{Type: "sale", Amount: dec("5000")},
		{Type: TypeSupplierDebt, Amount: dec("9999")},
		{Type: TypeSupplierRefund, Amount: dec("-1")},
	}
	debts := []Entry{{ID: "d1", Type: TypeDebt, Amount: dec("3000")}}
	refunds := []Entry{{Type: TypeRefund, RefundedDebtID: "d1", Amount: dec("1000")}}
	require.True(t, Solde(entries, debts, refunds).Equal(dec("7000")))
}

func TestOutstandingDebtClampsToZero(t *testing.T) {
	debts := []Entry{{ID: "d1", Type: TypeDebt, Amount: dec("2000")}}
	refunds := []Entry{{Type: TypeRefund, RefundedDebtID: "d1", Amount: dec("2500")}}
	total, orphans := OutstandingDebt(debts, refunds)
	require.True(t, total.IsZero(), "over-refund must clamp to zero, got %s", total)
	require.Zero(t, orphans)
}

func TestOutstandingDebtSumsMultipleRefunds(t *testing.T) {
	debts := []Entry{
		{ID: "d1", Type: TypeDebt, Amount: dec("2000")},
		{ID: "d2", Type: TypeDebt, Amount: dec("500")},
	}
	refunds := []Entry{
		{Type: TypeRefund, RefundedDebtID: "d1", Amount: dec("700")},
		{Type: TypeRefund, RefundedDebtID: "d1", Amount: dec("300")},
	}
	total, _ := OutstandingDebt(debts, refunds)
	require.True(t, total.Equal(dec("1500")))
}

func TestOutstandingDebtIgnoresOrphanRefunds(t *testing.T) {
	debts := []Entry{{ID: "d1", Type: TypeDebt, Amount: dec("2000")}}
	refunds := []Entry{{Type: TypeRefund, RefundedDebtID: "missing", Amount: dec("999")}}
	total, orphans := OutstandingDebt(debts, refunds)
	require.True(t, total.Equal(dec("2000")))
	require.Equal(t, 1, orphans)
}

func TestSupplierOutstandingDebt(t *testing.T) {
	debts := []Entry{{ID: "sd1", Type: TypeSupplierDebt, Amount: dec("4000")}}
	refunds := []Entry{
		{Type: TypeSupplierRefund, RefundedDebtID: "sd1", Amount: dec("1500")},
		{Type: TypeRefund, RefundedDebtID: "sd1", Amount: dec("9999")},
	}
	total, _ := SupplierOutstandingDebt(debts, refunds)
	require.True(t, total.Equal(dec("2500")))
}

func TestStockValue(t *testing.T) {
	now := time.Now()
	batches := []costing.Batch{
		{ID: "b1", Remaining: 10, CostPrice: dec("100"), Status: costing.BatchStatusActive, AcquiredAt: now},
		{ID: "b2", Remaining: 0, CostPrice: dec("100"), Status: costing.BatchStatusActive, AcquiredAt: now},
		{ID: "b3", Remaining: 7, CostPrice: dec("50"), Status: costing.BatchStatusDeleted, AcquiredAt: now},
	}
	require.True(t, StockValue(batches).Equal(dec("1000")))
}

func TestEmptyInputsYieldZero(t *testing.T) {
	profit, excluded := TotalProfit(nil, nil, nil)
	require.True(t, profit.IsZero())
	require.Zero(t, excluded)
	require.True(t, TotalExpenses(nil, nil).IsZero())
	require.True(t, Solde(nil, nil, nil).IsZero())
	require.True(t, StockValue(nil).IsZero())
	debt, _ := OutstandingDebt(nil, nil)
	require.True(t, debt.IsZero())
	supplier, _ := SupplierOutstandingDebt(nil, nil)
	require.True(t, supplier.IsZero())
}
