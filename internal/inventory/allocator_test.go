package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestPlanAllocationFIFO(t *testing.T) {
	batches := []StockBatch{
		{ID: 3, ProductID: 1, ExpiryDate: day(90), RemainingQty: 5, UnitCost: 12},
		{ID: 1, ProductID: 1, ExpiryDate: day(10), RemainingQty: 5, UnitCost: 10},
		{ID: 2, ProductID: 1, ExpiryDate: day(40), RemainingQty: 5, UnitCost: 11},
	}

	plan, err := PlanAllocation(1, batches, 7)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, Deduction{BatchID: 1, Qty: 5, UnitCost: 10}, plan[0])
	require.Equal(t, Deduction{BatchID: 2, Qty: 2, UnitCost: 11}, plan[1])
}

func TestPlanAllocationTieBreakByCreationOrder(t *testing.T) {
	expiry := day(30)
	batches := []StockBatch{
		{ID: 9, ProductID: 1, ExpiryDate: expiry, RemainingQty: 4},
		{ID: 2, ProductID: 1, ExpiryDate: expiry, RemainingQty: 4},
	}

	plan, err := PlanAllocation(1, batches, 6)
	require.NoError(t, err)
	require.Equal(t, int64(2), plan[0].BatchID)
	require.Equal(t, int64(4), plan[0].Qty)
	require.Equal(t, int64(9), plan[1].BatchID)
	require.Equal(t, int64(2), plan[1].Qty)
}

func TestPlanAllocationNeverOverdraws(t *testing.T) {
	batches := []StockBatch{
		{ID: 1, ProductID: 1, ExpiryDate: day(5), RemainingQty: 3},
		{ID: 2, ProductID: 1, ExpiryDate: day(6), RemainingQty: 2},
	}

	plan, err := PlanAllocation(1, batches, 5)
	require.NoError(t, err)
	var total int64
	for _, d := range plan {
		total += d.Qty
		for _, b := range batches {
			if b.ID == d.BatchID {
				require.LessOrEqual(t, d.Qty, b.RemainingQty)
			}
		}
	}
	require.Equal(t, int64(5), total)
}

func TestPlanAllocationInsufficient(t *testing.T) {
	batches := []StockBatch{
		{ID: 1, ProductID: 7, ExpiryDate: day(5), RemainingQty: 3},
		{ID: 2, ProductID: 7, ExpiryDate: day(6), RemainingQty: 2},
	}

	plan, err := PlanAllocation(7, batches, 6)
	require.Nil(t, plan)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(7), insufficient.ProductID)
	require.Equal(t, int64(6), insufficient.Requested)
	require.Equal(t, int64(5), insufficient.Available)
}

func TestPlanAllocationZeroRequest(t *testing.T) {
	plan, err := PlanAllocation(1, nil, 0)
	require.NoError(t, err)
	require.Empty(t, plan)
}

func TestPlanAllocationSkipsExhaustedBatches(t *testing.T) {
	batches := []StockBatch{
		{ID: 1, ProductID: 1, ExpiryDate: day(1), RemainingQty: 0},
		{ID: 2, ProductID: 1, ExpiryDate: day(2), RemainingQty: 3},
	}

	plan, err := PlanAllocation(1, batches, 3)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, int64(2), plan[0].BatchID)
}

func TestPlanAllocationNegativeRequest(t *testing.T) {
	_, err := PlanAllocation(1, nil, -1)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}
