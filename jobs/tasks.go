package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/galenica/galenica/internal/inventory"
	jobmetrics "github.com/galenica/galenica/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAlertsRefresh re-evaluates stock alerts, for one product or all.
	TaskAlertsRefresh = "alerts:refresh"
	// TaskValuationSnapshot materializes a valuation snapshot row.
	TaskValuationSnapshot = "valuation:snapshot"
)

// AlertsRefreshPayload scopes an alert refresh. ProductID zero means a full
// sweep over the active catalog.
type AlertsRefreshPayload struct {
	ProductID int64 `json:"product_id"`
}

// ValuationSnapshotPayload carries scheduling metadata.
type ValuationSnapshotPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// AlertsService is the slice of the alerts module the worker calls.
type AlertsService interface {
	RefreshProduct(ctx context.Context, productID int64) (int, error)
	RefreshAll(ctx context.Context) (int, error)
}

// ValuationService is the slice of the inventory module the worker calls.
type ValuationService interface {
	SnapshotValuation(ctx context.Context) (inventory.Valuation, error)
}

// NewAlertsRefreshTask constructs an alert refresh task.
func NewAlertsRefreshTask(productID int64) (*asynq.Task, error) {
	body, err := json.Marshal(AlertsRefreshPayload{ProductID: productID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// NewValuationSnapshotTask constructs a valuation snapshot task.
func NewValuationSnapshotTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ValuationSnapshotPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskValuationSnapshot, body, asynq.Queue(QueueDefault)), nil
}

// NewAlertsRefreshHandler builds the handler processing TaskAlertsRefresh.
func NewAlertsRefreshHandler(svc AlertsService, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskAlertsRefresh)
		var payload AlertsRefreshPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		var (
			raised int
			err    error
		)
		if payload.ProductID > 0 {
			raised, err = svc.RefreshProduct(ctx, payload.ProductID)
		} else {
			raised, err = svc.RefreshAll(ctx)
		}
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("alerts refreshed", slog.Int64("product_id", payload.ProductID), slog.Int("raised", raised))
		return tracker.End(nil)
	}
}

// NewValuationSnapshotHandler builds the handler processing TaskValuationSnapshot.
func NewValuationSnapshotHandler(svc ValuationService, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskValuationSnapshot)
		var payload ValuationSnapshotPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		valuation, err := svc.SnapshotValuation(ctx)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("valuation snapshot stored",
			slog.Float64("retail_value", valuation.TotalRetailValue),
			slog.Float64("cost_value", valuation.TotalCostValue))
		return tracker.End(nil)
	}
}
