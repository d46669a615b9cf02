package inventory

import "sort"

// PlanAllocation apportions requested outgoing quantity across the given
// batches, oldest expiry first, ties broken by batch id (creation order) so a
// plan is repeatable against the same snapshot. It is a pure planning
// function: committing the deductions is the caller's job, which keeps retry
// and rollback outside the planner.
//
// A zero request yields an empty plan. When the batches cannot cover the full
// request the plan is abandoned and an InsufficientStockError is returned.
func PlanAllocation(productID int64, batches []StockBatch, requested int64) ([]Deduction, error) {
	if requested < 0 {
		return nil, ErrInvalidQuantity
	}
	if requested == 0 {
		return []Deduction{}, nil
	}

	open := make([]StockBatch, 0, len(batches))
	var available int64
	for _, b := range batches {
		if b.RemainingQty <= 0 {
			continue
		}
		open = append(open, b)
		available += b.RemainingQty
	}
	if available < requested {
		return nil, &InsufficientStockError{ProductID: productID, Requested: requested, Available: available}
	}

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].ExpiryDate.Equal(open[j].ExpiryDate) {
			return open[i].ID < open[j].ID
		}
		return open[i].ExpiryDate.Before(open[j].ExpiryDate)
	})

	deductions := make([]Deduction, 0, len(open))
	remaining := requested
	for _, b := range open {
		if remaining == 0 {
			break
		}
		take := min64(remaining, b.RemainingQty)
		deductions = append(deductions, Deduction{BatchID: b.ID, Qty: take, UnitCost: b.UnitCost})
		remaining -= take
	}
	return deductions, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
