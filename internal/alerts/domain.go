package alerts

import "time"

// AlertType enumerates alert kinds.
type AlertType string

const (
	// TypeLowStock fires when quantity falls to the reorder point.
	TypeLowStock AlertType = "low_stock"
	// TypeOutOfStock fires when quantity reaches zero.
	TypeOutOfStock AlertType = "out_of_stock"
	// TypeExpiringSoon fires for batches inside the warning horizon.
	TypeExpiringSoon AlertType = "expiring_soon"
	// TypeExpired fires for batches past their expiry date.
	TypeExpired AlertType = "expired"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a persisted, derived signal. Alerts are regenerable from product,
// batch and ledger state at any time; rows exist only for display and dedup.
type Alert struct {
	ID         int64      `json:"id"`
	ProductID  int64      `json:"product_id"`
	BatchID    int64      `json:"batch_id,omitempty"` // zero when not batch scoped
	Type       AlertType  `json:"type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	Read       bool       `json:"read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Candidate is an alert produced by evaluation, before deduplication.
type Candidate struct {
	ProductID  int64
	BatchID    int64
	Type       AlertType
	Severity   Severity
	Message    string
	ExpiryDate *time.Time
}

// ProductState is the evaluation input snapshot.
type ProductState struct {
	ProductID    int64
	Name         string
	ReorderPoint int64
	Quantity     int64
	Batches      []BatchState
}

// BatchState is the batch slice evaluation needs.
type BatchState struct {
	ID           int64
	BatchNumber  string
	ExpiryDate   time.Time
	RemainingQty int64
}

// DedupWindow suppresses duplicate (product, type, batch) alerts.
const DedupWindow = 24 * time.Hour

const (
	expiryHorizonHighDays   = 30
	expiryHorizonMediumDays = 90
	lowStockHighFraction    = 0.3
)
