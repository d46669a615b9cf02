package stocktake

import (
	"errors"
	"time"
)

// Status tracks a stocktake session lifecycle.
type Status string

const (
	// StatusCounting accepts count submissions.
	StatusCounting Status = "counting"
	// StatusApproved means variances were reconciled into the ledger.
	StatusApproved Status = "approved"
	// StatusCancelled discards the session without ledger writes.
	StatusCancelled Status = "cancelled"
)

// Session is one physical count of the shelf.
type Session struct {
	ID         int64      `json:"id"`
	Notes      string     `json:"notes"`
	Status     Status     `json:"status"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Item is one counted product within a session. SystemQuantity is the ledger
// quantity at the moment of counting; Variance is counted minus system and is
// what approval turns into a stocktake movement.
type Item struct {
	ID              int64     `json:"id"`
	SessionID       int64     `json:"session_id"`
	ProductID       int64     `json:"product_id"`
	SystemQuantity  int64     `json:"system_quantity"`
	CountedQuantity int64     `json:"counted_quantity"`
	Variance        int64     `json:"variance"`
	Adjusted        bool      `json:"adjusted"`
	MovementID      int64     `json:"movement_id,omitempty"`
	CountedAt       time.Time `json:"counted_at"`
}

// CreateSessionInput starts a session.
type CreateSessionInput struct {
	Notes   string `json:"notes" validate:"max=512"`
	ActorID int64  `json:"-"`
}

// CountInput records or replaces one product's count in a session.
type CountInput struct {
	SessionID       int64 `json:"-"`
	ProductID       int64 `json:"product_id" validate:"required,gt=0"`
	CountedQuantity int64 `json:"counted_quantity" validate:"gte=0"`
	ActorID         int64 `json:"-"`
}

// ItemFailure reports one item that could not be reconciled during approval.
type ItemFailure struct {
	ProductID int64  `json:"product_id"`
	Message   string `json:"message"`
}

// ApprovalResult summarizes an approval run. Items reconcile independently, so
// a partial outcome is normal: adjusted items stay adjusted and the failures
// list what still needs attention.
type ApprovalResult struct {
	SessionID     int64         `json:"session_id"`
	ItemsAdjusted int           `json:"items_adjusted"`
	ItemsSkipped  int           `json:"items_skipped"`
	Failures      []ItemFailure `json:"failures,omitempty"`
}

// ErrSessionNotFound indicates a missing session row.
var ErrSessionNotFound = errors.New("stocktake: session not found")

// ErrSessionClosed rejects writes against approved or cancelled sessions.
var ErrSessionClosed = errors.New("stocktake: session is not open for counting")

// ErrItemNotFound indicates a missing item row.
var ErrItemNotFound = errors.New("stocktake: item not found")

// ErrItemAdjusted indicates the item was already reconciled.
var ErrItemAdjusted = errors.New("stocktake: item already adjusted")
