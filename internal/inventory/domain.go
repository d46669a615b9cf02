package inventory

import (
	"errors"
	"fmt"
	"time"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementPurchase represents received stock.
	MovementPurchase MovementType = "purchase"
	// MovementSale represents stock sold to a customer.
	MovementSale MovementType = "sale"
	// MovementAdjustment indicates manual corrections.
	MovementAdjustment MovementType = "adjustment"
	// MovementStocktake is written when a stocktake variance is approved.
	MovementStocktake MovementType = "stocktake"
	// MovementReturn restores stock, including sale compensation.
	MovementReturn MovementType = "return"
)

// StockMovement is an immutable signed quantity change against a product.
// The ledger's current quantity for a product is the sum of its movement
// quantities; it is never stored as a counter.
type StockMovement struct {
	ID           int64
	ProductID    int64
	BatchID      int64 // zero when the movement is not batch scoped
	Type         MovementType
	Quantity     int64 // positive = stock in, negative = stock out
	UnitCost     float64
	SellingPrice float64 // populated on sale movements
	Reason       string
	Reference    string // sale id, stocktake session id
	ActorID      int64
	CreatedAt    time.Time
}

// StockBatch is a received lot with its own expiry date and unit cost,
// consumed FIFO by ascending expiry. Exhausted batches are kept for history.
type StockBatch struct {
	ID           int64
	ProductID    int64
	BatchNumber  string
	ExpiryDate   time.Time
	UnitCost     float64
	RemainingQty int64
	ReceivedAt   time.Time
}

// Expired reports whether the batch expiry date has passed.
func (b StockBatch) Expired(now time.Time) bool {
	return b.ExpiryDate.Before(now)
}

// Deduction is one planned draw against a batch.
type Deduction struct {
	BatchID  int64
	Qty      int64
	UnitCost float64
}

// StockSnapshot is the current-stock view exposed to callers.
type StockSnapshot struct {
	ProductID int64
	Quantity  int64
	Batches   []StockBatch
}

// ReceiveInput describes a goods receipt creating a new batch.
type ReceiveInput struct {
	ProductID   int64     `json:"product_id" validate:"required,gt=0"`
	BatchNumber string    `json:"batch_number" validate:"required,max=64"`
	ExpiryDate  time.Time `json:"expiry_date" validate:"required"`
	Quantity    int64     `json:"quantity" validate:"required,gt=0"`
	UnitCost    float64   `json:"unit_cost" validate:"required,gt=0"`
	PackSize    int64     `json:"pack_size" validate:"omitempty,gt=0"`
	Supplier    string    `json:"supplier" validate:"max=128"`
	ActorID     int64     `json:"-"`
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required"`
	Reason    string `json:"reason" validate:"required,max=256"`
	ActorID   int64  `json:"-"`
}

// MovementFilter narrows ledger listings.
type MovementFilter struct {
	ProductID int64
	Type      MovementType
	Limit     int
	Offset    int
}

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrBatchNotFound indicates a missing batch row.
var ErrBatchNotFound = errors.New("inventory: batch not found")

// ErrBatchConflict is returned when a conditional batch update finds the
// remaining quantity changed underneath it or insufficient to cover the draw.
var ErrBatchConflict = errors.New("inventory: batch remaining quantity changed concurrently")

// ErrExpiredStock blocks sales whose FIFO order would consume an expired batch.
var ErrExpiredStock = errors.New("inventory: expired batch would be consumed")

// ErrSuspectUnitCost flags a unit cost that looks like a pack cost.
var ErrSuspectUnitCost = errors.New("inventory: unit cost exceeds plausible bound, verify pack size")

// InsufficientStockError reports an allocation shortfall. The allocator
// guarantees no state was touched when this is returned.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}
