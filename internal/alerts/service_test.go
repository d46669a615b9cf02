package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/shared"
)

type memoryAlertRepo struct {
	alerts []Alert
	nextID int64
}

func (r *memoryAlertRepo) Insert(ctx context.Context, a Alert) (int64, error) {
	r.nextID++
	a.ID = r.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.alerts = append(r.alerts, a)
	return a.ID, nil
}

func (r *memoryAlertRepo) ExistsRecent(ctx context.Context, productID int64, alertType AlertType, batchID int64, since time.Time) (bool, error) {
	for _, a := range r.alerts {
		if a.ProductID == productID && a.Type == alertType && a.BatchID == batchID && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryAlertRepo) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]Alert, error) {
	result := []Alert{}
	for _, a := range r.alerts {
		if unreadOnly && a.Read {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (r *memoryAlertRepo) MarkRead(ctx context.Context, id int64) error {
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			r.alerts[i].Read = true
			return nil
		}
	}
	return ErrAlertNotFound
}

func (r *memoryAlertRepo) UnreadCount(ctx context.Context) (int64, error) {
	var count int64
	for _, a := range r.alerts {
		if !a.Read {
			count++
		}
	}
	return count, nil
}

type fakeCatalog map[int64]catalog.Product

func (c fakeCatalog) Get(ctx context.Context, id int64) (catalog.Product, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

func (c fakeCatalog) List(ctx context.Context, activeOnly bool, page shared.Page) ([]catalog.Product, error) {
	result := []catalog.Product{}
	for _, p := range c {
		if activeOnly && !p.Active {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

type fakeStock struct {
	quantities map[int64]int64
	batches    map[int64][]inventory.StockBatch
}

func (s *fakeStock) CurrentQuantity(ctx context.Context, productID int64) (int64, error) {
	return s.quantities[productID], nil
}

func (s *fakeStock) OpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error) {
	return s.batches[productID], nil
}

func TestRefreshProductIdempotentWithinWindow(t *testing.T) {
	repo := &memoryAlertRepo{}
	catalogPort := fakeCatalog{1: {ID: 1, Name: "Aspirin", ReorderPoint: 100, Active: true}}
	stock := &fakeStock{quantities: map[int64]int64{1: 40}}
	svc := NewService(repo, catalogPort, stock, nil, nil)
	ctx := context.Background()

	raised, err := svc.RefreshProduct(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, raised)

	raised, err = svc.RefreshProduct(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, raised)
	require.Len(t, repo.alerts, 1)
}

func TestRefreshProductRaisesAgainAfterWindow(t *testing.T) {
	repo := &memoryAlertRepo{}
	catalogPort := fakeCatalog{1: {ID: 1, Name: "Aspirin", ReorderPoint: 100, Active: true}}
	stock := &fakeStock{quantities: map[int64]int64{1: 40}}
	svc := NewService(repo, catalogPort, stock, nil, nil)
	ctx := context.Background()

	_, err := svc.RefreshProduct(ctx, 1)
	require.NoError(t, err)

	// Age the existing alert past the dedup window.
	repo.alerts[0].CreatedAt = time.Now().UTC().Add(-25 * time.Hour)

	raised, err := svc.RefreshProduct(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, raised)
	require.Len(t, repo.alerts, 2)
}

func TestRefreshProductSkipsInactive(t *testing.T) {
	repo := &memoryAlertRepo{}
	catalogPort := fakeCatalog{1: {ID: 1, Name: "Old", ReorderPoint: 10, Active: false}}
	stock := &fakeStock{quantities: map[int64]int64{1: 0}}
	svc := NewService(repo, catalogPort, stock, nil, nil)

	raised, err := svc.RefreshProduct(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, raised)
	require.Empty(t, repo.alerts)
}

func TestRefreshProductBatchScopedDedup(t *testing.T) {
	expiry := time.Now().UTC().AddDate(0, 0, 10)
	repo := &memoryAlertRepo{}
	catalogPort := fakeCatalog{1: {ID: 1, Name: "Amoxicillin", Active: true}}
	stock := &fakeStock{
		quantities: map[int64]int64{1: 50},
		batches: map[int64][]inventory.StockBatch{1: {
			{ID: 11, ProductID: 1, BatchNumber: "A", ExpiryDate: expiry, RemainingQty: 25},
			{ID: 12, ProductID: 1, BatchNumber: "B", ExpiryDate: expiry, RemainingQty: 25},
		}},
	}
	svc := NewService(repo, catalogPort, stock, nil, nil)
	ctx := context.Background()

	raised, err := svc.RefreshProduct(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, raised)

	raised, err = svc.RefreshProduct(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, raised)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	repo := &memoryAlertRepo{}
	svc := NewService(repo, fakeCatalog{}, &fakeStock{}, nil, nil)
	ctx := context.Background()

	id, err := repo.Insert(ctx, Alert{ProductID: 1, Type: TypeLowStock, Severity: SeverityMedium})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, svc.MarkRead(ctx, id))

	count, err = svc.UnreadCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
