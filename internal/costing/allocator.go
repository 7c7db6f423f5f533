package costing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocate consumes quantity units from the eligible subset of batches under
// the given costing method. It returns the per-batch consumption breakdown
// without mutating its inputs; the caller persists each line's Remaining
// value. On error no partial allocation is returned, so the caller must not
// apply any batch mutation.
func Allocate(batches []Batch, quantity int64, method Method) (Allocation, error) {
	if !method.IsValid() {
		return Allocation{}, ErrInvalidMethod
	}
	if quantity <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}

	eligible := make([]Batch, 0, len(batches))
	var available int64
	for _, b := range batches {
		if b.Eligible() {
			eligible = append(eligible, b)
			available += b.Remaining
		}
	}
	if len(eligible) == 0 {
		return Allocation{}, ErrNoStock
	}
	if quantity > available {
		return Allocation{}, &InsufficientStockError{Requested: quantity, Available: available}
	}

	var consumed []Consumption
	switch method {
	case MethodFIFO:
		sortByAcquisition(eligible, false)
		consumed = consumeSequential(eligible, quantity)
	case MethodLIFO:
		sortByAcquisition(eligible, true)
		consumed = consumeSequential(eligible, quantity)
	case MethodCMUP:
		sortByAcquisition(eligible, false)
		consumed = consumeProportional(eligible, quantity, available)
	}

	total := decimal.Zero
	for _, c := range consumed {
		total = total.Add(c.CostPrice.Mul(decimal.NewFromInt(c.Quantity)))
	}
	return Allocation{
		Consumed:       consumed,
		TotalCost:      total,
		AverageCost:    total.Div(decimal.NewFromInt(quantity)),
		PrimaryBatchID: consumed[0].BatchID,
	}, nil
}

// sortByAcquisition orders batches by acquisition time, tie-breaking on ID so
// allocation stays reproducible when timestamps collide.
func sortByAcquisition(batches []Batch, newestFirst bool) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.AcquiredAt.Equal(b.AcquiredAt) {
			if newestFirst {
				return a.AcquiredAt.After(b.AcquiredAt)
			}
			return a.AcquiredAt.Before(b.AcquiredAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// consumeSequential drains batches in order, costing each slice at the
// batch's own price. Used by FIFO and LIFO.
func consumeSequential(batches []Batch, quantity int64) []Consumption {
	left := quantity
	lines := make([]Consumption, 0, len(batches))
	for _, b := range batches {
		if left == 0 {
			break
		}
		take := b.Remaining
		if take > left {
			take = left
		}
		lines = append(lines, Consumption{
			BatchID:   b.ID,
			CostPrice: b.CostPrice,
			Quantity:  take,
			Remaining: b.Remaining - take,
		})
		left -= take
	}
	return lines
}

// consumeProportional implements the CMUP debiting order: each batch first
// gives up its share of the request proportional to its share of available
// stock (rounded up), then a sweep in the same order settles any shortfall so
// the consumed total matches the request exactly. Every slice is costed at
// the single weighted average over the pre-allocation set.
func consumeProportional(batches []Batch, quantity, available int64) []Consumption {
	avg := weightedAverage(batches, available)

	taken := make([]int64, len(batches))
	left := quantity
	for i, b := range batches {
		if left == 0 {
			break
		}
		share := (quantity*b.Remaining + available - 1) / available
		if share > b.Remaining {
			share = b.Remaining
		}
		if share > left {
			share = left
		}
		taken[i] = share
		left -= share
	}
	for i, b := range batches {
		if left == 0 {
			break
		}
		room := b.Remaining - taken[i]
		if room <= 0 {
			continue
		}
		if room > left {
			room = left
		}
		taken[i] += room
		left -= room
	}

	lines := make([]Consumption, 0, len(batches))
	for i, b := range batches {
		if taken[i] == 0 {
			continue
		}
		lines = append(lines, Consumption{
			BatchID:   b.ID,
			CostPrice: avg,
			Quantity:  taken[i],
			Remaining: b.Remaining - taken[i],
		})
	}
	return lines
}

// weightedAverage computes Σ(price·remaining)/Σ(remaining) over batches.
func weightedAverage(batches []Batch, available int64) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range batches {
		sum = sum.Add(b.CostPrice.Mul(decimal.NewFromInt(b.Remaining)))
	}
	return sum.Div(decimal.NewFromInt(available))
}
