package sales

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sale is the committed record of a point-of-sale transaction.
type Sale struct {
	ID            string     `json:"id"`
	Items         []SaleItem `json:"items"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	CashierID     int64      `json:"cashier_id"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SaleItem is one sold line.
type SaleItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

// LineItem is a requested sale line.
type LineItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// SaleInput describes a sale request.
type SaleInput struct {
	Items         []LineItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string     `json:"payment_method" validate:"required,oneof=cash card transfer"`
	// Reference is an optional client-supplied key making retries idempotent.
	Reference string `json:"reference" validate:"omitempty,max=64"`
	CashierID int64  `json:"-"`
}

// State tracks a sale through the orchestrator.
type State string

const (
	StatePlanning   State = "planning"
	StateAllocating State = "allocating"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateRolledBack State = "rolled_back"
)

// Disposition tells the caller what the failure left behind.
type Disposition string

const (
	// DispositionNothingApplied means no state was touched.
	DispositionNothingApplied Disposition = "nothing_applied"
	// DispositionRolledBack means applied deductions were fully compensated.
	DispositionRolledBack Disposition = "rolled_back"
	// DispositionNeedsReview means compensation itself failed and stock state
	// requires manual reconciliation.
	DispositionNeedsReview Disposition = "needs_review"
)

// ErrProductInactive blocks sales of deactivated products.
var ErrProductInactive = errors.New("sales: product is inactive")

// SaleError is the structured failure handed to callers. Disposition
// distinguishes "nothing happened" from "stock was restored" from "stock
// state needs review".
type SaleError struct {
	State        State
	Disposition  Disposition
	Err          error
	Compensation *CompensationError
}

func (e *SaleError) Error() string {
	return fmt.Sprintf("sales: %s in state %s (%s)", e.Err, e.State, e.Disposition)
}

func (e *SaleError) Unwrap() error {
	return e.Err
}

// Shortfall is one batch whose quantity could not be restored.
type Shortfall struct {
	ProductID int64
	BatchID   int64
	Qty       int64
	Cause     error
}

// CompensationError reports an incomplete rollback. This is the one failure
// class that demands manual intervention: the ledger's derived state no
// longer matches batch reality until the listed quantities are restored.
type CompensationError struct {
	SaleID     string
	Shortfalls []Shortfall
}

func (e *CompensationError) Error() string {
	parts := make([]string, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		parts[i] = fmt.Sprintf("batch %d owes %d units", s.BatchID, s.Qty)
	}
	return fmt.Sprintf("sales: compensation for sale %s incomplete: %s", e.SaleID, strings.Join(parts, "; "))
}
