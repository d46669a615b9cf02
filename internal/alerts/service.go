package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/shared"
)

// RepositoryPort abstracts alert persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, a Alert) (int64, error)
	ExistsRecent(ctx context.Context, productID int64, alertType AlertType, batchID int64, since time.Time) (bool, error)
	List(ctx context.Context, unreadOnly bool, limit, offset int) ([]Alert, error)
	MarkRead(ctx context.Context, id int64) error
	UnreadCount(ctx context.Context) (int64, error)
}

// CatalogPort exposes the product data evaluation needs. Satisfied by
// catalog.Service.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
	List(ctx context.Context, activeOnly bool, page shared.Page) ([]catalog.Product, error)
}

// StockPort exposes ledger and batch reads. Satisfied by inventory.Service.
type StockPort interface {
	CurrentQuantity(ctx context.Context, productID int64) (int64, error)
	OpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error)
}

// MetricsPort counts raised alerts. Optional.
type MetricsPort interface {
	AlertRaised(alertType string)
}

// Service evaluates and persists alerts.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	stock   StockPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalogPort CatalogPort, stock StockPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: catalogPort, stock: stock, metrics: metrics, logger: logger, now: time.Now}
}

// RefreshProduct re-evaluates one product and persists candidates that are not
// duplicates within the dedup window. Repeated invocations within the window
// are idempotent, so page loads and background refreshes cannot flood rows.
func (s *Service) RefreshProduct(ctx context.Context, productID int64) (int, error) {
	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !product.Active {
		return 0, nil
	}

	qty, err := s.stock.CurrentQuantity(ctx, productID)
	if err != nil {
		return 0, err
	}
	batches, err := s.stock.OpenBatches(ctx, productID)
	if err != nil {
		return 0, err
	}

	state := ProductState{
		ProductID:    product.ID,
		Name:         product.Name,
		ReorderPoint: product.ReorderPoint,
		Quantity:     qty,
	}
	for _, b := range batches {
		state.Batches = append(state.Batches, BatchState{
			ID:           b.ID,
			BatchNumber:  b.BatchNumber,
			ExpiryDate:   b.ExpiryDate,
			RemainingQty: b.RemainingQty,
		})
	}

	now := s.now().UTC()
	raised := 0
	for _, c := range Evaluate(state, now) {
		exists, err := s.repo.ExistsRecent(ctx, c.ProductID, c.Type, c.BatchID, now.Add(-DedupWindow))
		if err != nil {
			return raised, err
		}
		if exists {
			continue
		}
		if _, err := s.repo.Insert(ctx, Alert{
			ProductID:  c.ProductID,
			BatchID:    c.BatchID,
			Type:       c.Type,
			Severity:   c.Severity,
			Message:    c.Message,
			ExpiryDate: c.ExpiryDate,
		}); err != nil {
			return raised, err
		}
		raised++
		if s.metrics != nil {
			s.metrics.AlertRaised(string(c.Type))
		}
	}
	return raised, nil
}

// RefreshAll re-evaluates every active product, a page at a time with bounded
// concurrency. Per-product failures are logged and do not stop the sweep.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	page := shared.Page{Limit: 200}
	var raised atomic.Int64
	for {
		products, err := s.catalog.List(ctx, true, page)
		if err != nil {
			return int(raised.Load()), err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, p := range products {
			productID := p.ID
			g.Go(func() error {
				n, err := s.RefreshProduct(gctx, productID)
				raised.Add(int64(n))
				if err != nil {
					s.logger.Error("alert refresh failed", slog.Int64("product_id", productID), slog.Any("error", err))
				}
				return nil
			})
		}
		_ = g.Wait()
		if len(products) < page.Limit {
			return int(raised.Load()), nil
		}
		page.Offset += page.Limit
	}
}

// List returns alerts for display.
func (s *Service) List(ctx context.Context, unreadOnly bool, page shared.Page) ([]Alert, error) {
	page = page.Normalize()
	return s.repo.List(ctx, unreadOnly, page.Limit, page.Offset)
}

// MarkRead flags an alert as read.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	return s.repo.MarkRead(ctx, id)
}

// UnreadCount counts unread alerts.
func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	return s.repo.UnreadCount(ctx)
}
