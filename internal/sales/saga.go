package sales

import (
	"context"
	"log/slog"
)

// stepKind names a compensable saga step. New movement kinds register their
// own compensation in compensateStep instead of growing ad hoc rollback code.
type stepKind string

const stepBatchDeduction stepKind = "batch_deduction"

// sagaStep is one applied, compensable unit of work.
type sagaStep struct {
	kind         stepKind
	productID    int64
	batchID      int64
	qty          int64
	sellingPrice float64
}

// saga accumulates applied steps of a sale so a commit failure can be
// compensated. The backing store offers no cross-entity transaction, so the
// rollback is explicit inverse operations, best effort by design.
type saga struct {
	saleID  string
	actorID int64
	steps   []sagaStep
}

func newSaga(saleID string, actorID int64) *saga {
	return &saga{saleID: saleID, actorID: actorID}
}

func (s *saga) record(step sagaStep) {
	s.steps = append(s.steps, step)
}

// compensate undoes every recorded step, grouping batch deductions by batch
// and summing quantities to avoid redundant writes. It never aborts early: a
// failed add-back is collected as a shortfall and the rest still runs.
func (s *saga) compensate(ctx context.Context, inv InventoryPort, logger *slog.Logger) *CompensationError {
	type groupKey struct {
		productID int64
		batchID   int64
	}
	grouped := make(map[groupKey]int64)
	order := []groupKey{}
	for _, step := range s.steps {
		if step.kind != stepBatchDeduction {
			continue
		}
		key := groupKey{productID: step.productID, batchID: step.batchID}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] += step.qty
	}

	var shortfalls []Shortfall
	for _, key := range order {
		qty := grouped[key]
		if err := inv.CompensateDeduction(ctx, key.productID, key.batchID, qty, s.saleID, s.actorID); err != nil {
			logger.Error("sale compensation failed",
				slog.String("sale_id", s.saleID),
				slog.Int64("batch_id", key.batchID),
				slog.Int64("qty_owed", qty),
				slog.Any("error", err))
			shortfalls = append(shortfalls, Shortfall{ProductID: key.productID, BatchID: key.batchID, Qty: qty, Cause: err})
		}
	}
	if len(shortfalls) > 0 {
		return &CompensationError{SaleID: s.saleID, Shortfalls: shortfalls}
	}
	return nil
}
