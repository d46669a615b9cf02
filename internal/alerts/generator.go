package alerts

import (
	"fmt"
	"sort"
	"time"
)

// Evaluate derives alert candidates from a product snapshot. It is a pure
// function of its inputs; persistence and deduplication happen in the service.
//
// Stock rules are mutually exclusive per product: out-of-stock wins over
// low-stock. Expiry rules fire per open batch, ordered by expiry date.
func Evaluate(state ProductState, now time.Time) []Candidate {
	var candidates []Candidate

	switch {
	case state.Quantity == 0:
		candidates = append(candidates, Candidate{
			ProductID: state.ProductID,
			Type:      TypeOutOfStock,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("%s is out of stock", state.Name),
		})
	case state.ReorderPoint > 0 && state.Quantity <= state.ReorderPoint:
		severity := SeverityMedium
		if float64(state.Quantity) <= lowStockHighFraction*float64(state.ReorderPoint) {
			severity = SeverityHigh
		}
		candidates = append(candidates, Candidate{
			ProductID: state.ProductID,
			Type:      TypeLowStock,
			Severity:  severity,
			Message:   fmt.Sprintf("%s is low on stock: %d left, reorder point %d", state.Name, state.Quantity, state.ReorderPoint),
		})
	}

	batches := make([]BatchState, 0, len(state.Batches))
	for _, b := range state.Batches {
		if b.RemainingQty > 0 {
			batches = append(batches, b)
		}
	}
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].ExpiryDate.Before(batches[j].ExpiryDate)
	})

	for _, b := range batches {
		expiry := b.ExpiryDate
		if expiry.Before(now) {
			candidates = append(candidates, Candidate{
				ProductID:  state.ProductID,
				BatchID:    b.ID,
				Type:       TypeExpired,
				Severity:   SeverityCritical,
				Message:    fmt.Sprintf("%s batch %s expired on %s with %d units left", state.Name, b.BatchNumber, expiry.Format("2006-01-02"), b.RemainingQty),
				ExpiryDate: &expiry,
			})
			continue
		}
		days := int(expiry.Sub(now).Hours() / 24)
		var severity Severity
		switch {
		case days <= expiryHorizonHighDays:
			severity = SeverityHigh
		case days <= expiryHorizonMediumDays:
			severity = SeverityMedium
		default:
			continue
		}
		candidates = append(candidates, Candidate{
			ProductID:  state.ProductID,
			BatchID:    b.ID,
			Type:       TypeExpiringSoon,
			Severity:   severity,
			Message:    fmt.Sprintf("%s batch %s expires in %d days (%d units left)", state.Name, b.BatchNumber, days, b.RemainingQty),
			ExpiryDate: &expiry,
		})
	}

	return candidates
}
