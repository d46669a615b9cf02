package inventory

import "math"

// ProductPricing is the slice of catalog data valuation needs.
type ProductPricing struct {
	ProductID    int64
	Name         string
	SellingPrice float64
}

// ProductValuation holds both bases for one product.
type ProductValuation struct {
	ProductID   int64   `json:"product_id"`
	Name        string  `json:"name"`
	Quantity    int64   `json:"quantity"`
	RetailValue float64 `json:"retail_value"`
	CostValue   float64 `json:"cost_value"`
}

// Valuation aggregates inventory worth on a retail basis (ledger quantity x
// selling price) and a cost basis (batch remaining quantity x unit cost). The
// two are computed from different state and may legitimately diverge.
type Valuation struct {
	TotalRetailValue float64            `json:"total_retail_value"`
	TotalCostValue   float64            `json:"total_cost_value"`
	PerProduct       []ProductValuation `json:"per_product"`
	// ExcludedBatches lists batch ids skipped from cost valuation because of
	// a non-positive unit cost or remaining quantity. Surfaced as a data
	// quality signal rather than silently dropped.
	ExcludedBatches []int64 `json:"excluded_batches,omitempty"`
}

// Valuate computes the valuation from a catalog snapshot, ledger quantities
// and a batch snapshot. Batches are deduplicated by id so a batch appearing in
// multiple fetched pages is only counted once. Non-finite or negative values
// are excluded rather than propagated.
func Valuate(products []ProductPricing, quantities map[int64]int64, batches []StockBatch) Valuation {
	costByProduct := make(map[int64]float64, len(products))
	seen := make(map[int64]struct{}, len(batches))
	var excluded []int64

	for _, b := range batches {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		if b.UnitCost <= 0 || b.RemainingQty <= 0 {
			excluded = append(excluded, b.ID)
			continue
		}
		value := float64(b.RemainingQty) * b.UnitCost
		if !finitePositive(value) {
			excluded = append(excluded, b.ID)
			continue
		}
		costByProduct[b.ProductID] += value
	}

	result := Valuation{PerProduct: make([]ProductValuation, 0, len(products)), ExcludedBatches: excluded}
	for _, p := range products {
		qty := quantities[p.ProductID]
		retail := float64(qty) * p.SellingPrice
		if !finitePositive(retail) {
			retail = 0
		}
		cost := costByProduct[p.ProductID]
		result.PerProduct = append(result.PerProduct, ProductValuation{
			ProductID:   p.ProductID,
			Name:        p.Name,
			Quantity:    qty,
			RetailValue: retail,
			CostValue:   cost,
		})
		result.TotalRetailValue += retail
		result.TotalCostValue += cost
	}
	return result
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
