package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
)

type fakeInventory struct {
	batches map[int64][]inventory.StockBatch

	failCommitOnBatch     int64
	failCompensateOnBatch int64

	commits     []inventory.Deduction
	compensated map[int64]int64
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		batches:     map[int64][]inventory.StockBatch{},
		compensated: map[int64]int64{},
	}
}

func (f *fakeInventory) OpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error) {
	return f.batches[productID], nil
}

func (f *fakeInventory) CommitDeduction(ctx context.Context, productID int64, d inventory.Deduction, sellingPrice float64, saleID string, actorID int64) error {
	if f.failCommitOnBatch != 0 && d.BatchID == f.failCommitOnBatch {
		return inventory.ErrBatchConflict
	}
	for i := range f.batches[productID] {
		if f.batches[productID][i].ID == d.BatchID {
			f.batches[productID][i].RemainingQty -= d.Qty
		}
	}
	f.commits = append(f.commits, d)
	return nil
}

func (f *fakeInventory) CompensateDeduction(ctx context.Context, productID, batchID, qty int64, saleID string, actorID int64) error {
	if f.failCompensateOnBatch != 0 && batchID == f.failCompensateOnBatch {
		return errors.New("compensate failed")
	}
	for i := range f.batches[productID] {
		if f.batches[productID][i].ID == batchID {
			f.batches[productID][i].RemainingQty += qty
		}
	}
	f.compensated[batchID] += qty
	return nil
}

func (f *fakeInventory) remaining(productID, batchID int64) int64 {
	for _, b := range f.batches[productID] {
		if b.ID == batchID {
			return b.RemainingQty
		}
	}
	return 0
}

type fakeProducts map[int64]catalog.Product

func (c fakeProducts) Get(ctx context.Context, id int64) (catalog.Product, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

type memorySaleRepo struct {
	sales      map[string]Sale
	insertFail bool
}

func newMemorySaleRepo() *memorySaleRepo {
	return &memorySaleRepo{sales: map[string]Sale{}}
}

func (r *memorySaleRepo) InsertSale(ctx context.Context, sale Sale) error {
	if r.insertFail {
		return errors.New("insert failed")
	}
	r.sales[sale.ID] = sale
	return nil
}

func (r *memorySaleRepo) GetSale(ctx context.Context, id string) (Sale, error) {
	if sale, ok := r.sales[id]; ok {
		return sale, nil
	}
	return Sale{}, ErrSaleNotFound
}

type countMetrics struct {
	committed    int
	rolledBack   int
	compFailures int
}

func (m *countMetrics) SaleCommitted()       { m.committed++ }
func (m *countMetrics) SaleRolledBack()      { m.rolledBack++ }
func (m *countMetrics) CompensationFailure() { m.compFailures++ }

func futureBatch(id, productID, qty int64, expiryDays int) inventory.StockBatch {
	return inventory.StockBatch{
		ID:           id,
		ProductID:    productID,
		BatchNumber:  "B",
		ExpiryDate:   time.Now().UTC().AddDate(0, 0, expiryDays),
		UnitCost:     1,
		RemainingQty: qty,
	}
}

func newTestService(repo *memorySaleRepo, inv *fakeInventory, products fakeProducts, metrics *countMetrics) *Service {
	return NewService(repo, inv, products, nil, nil, metrics, nil, nil)
}

func TestProcessSaleCommitsFIFO(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{
		futureBatch(11, 1, 5, 30),
		futureBatch(12, 1, 5, 60),
	}
	products := fakeProducts{1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true}}
	repo := newMemorySaleRepo()
	metrics := &countMetrics{}
	svc := newTestService(repo, inv, products, metrics)

	sale, err := svc.ProcessSale(context.Background(), SaleInput{
		Items:         []LineItem{{ProductID: 1, Quantity: 7}},
		PaymentMethod: "cash",
		CashierID:     9,
	})
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	require.Equal(t, float64(28), sale.Total)
	require.Equal(t, 1, metrics.committed)

	// FIFO: earliest expiry drained first.
	require.Equal(t, []inventory.Deduction{
		{BatchID: 11, Qty: 5, UnitCost: 1},
		{BatchID: 12, Qty: 2, UnitCost: 1},
	}, inv.commits)
	require.Contains(t, repo.sales, sale.ID)
}

func TestProcessSaleInsufficientLeavesNothing(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 3, 30)}
	products := fakeProducts{1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true}}
	repo := newMemorySaleRepo()
	svc := newTestService(repo, inv, products, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items:         []LineItem{{ProductID: 1, Quantity: 5}},
		PaymentMethod: "cash",
	})
	var saleErr *SaleError
	require.ErrorAs(t, err, &saleErr)
	require.Equal(t, DispositionNothingApplied, saleErr.Disposition)
	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, inv.commits)
	require.Empty(t, repo.sales)
	require.True(t, IsNothingApplied(err))
}

func TestProcessSaleRefusesExpiredBatch(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, -1)}
	products := fakeProducts{1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true}}
	repo := newMemorySaleRepo()
	svc := newTestService(repo, inv, products, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items:         []LineItem{{ProductID: 1, Quantity: 2}},
		PaymentMethod: "cash",
	})
	require.ErrorIs(t, err, inventory.ErrExpiredStock)
	require.True(t, IsNothingApplied(err))
	require.Empty(t, inv.commits)
}

func TestProcessSaleRefusesInactiveProduct(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, 30)}
	products := fakeProducts{1: {ID: 1, Name: "Old", SellingPrice: 4, Active: false}}
	svc := newTestService(newMemorySaleRepo(), inv, products, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items:         []LineItem{{ProductID: 1, Quantity: 1}},
		PaymentMethod: "cash",
	})
	require.ErrorIs(t, err, ErrProductInactive)
	require.True(t, IsNothingApplied(err))
}

func TestProcessSaleRollsBackEarlierLines(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, 30)}
	inv.batches[2] = []inventory.StockBatch{futureBatch(21, 2, 10, 30)}
	inv.failCommitOnBatch = 21
	products := fakeProducts{
		1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true},
		2: {ID: 2, Name: "Ibuprofen", SellingPrice: 6, Active: true},
	}
	repo := newMemorySaleRepo()
	metrics := &countMetrics{}
	svc := newTestService(repo, inv, products, metrics)

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items: []LineItem{
			{ProductID: 1, Quantity: 4},
			{ProductID: 2, Quantity: 3},
		},
		PaymentMethod: "card",
	})
	var saleErr *SaleError
	require.ErrorAs(t, err, &saleErr)
	require.Equal(t, DispositionRolledBack, saleErr.Disposition)

	// First line was committed then restored in full.
	require.Equal(t, int64(4), inv.compensated[11])
	require.Equal(t, int64(10), inv.remaining(1, 11))
	require.Empty(t, repo.sales)
	require.Equal(t, 1, metrics.rolledBack)
	require.Zero(t, metrics.committed)
}

func TestProcessSaleCompensationFailureNeedsReview(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, 30)}
	inv.batches[2] = []inventory.StockBatch{futureBatch(21, 2, 10, 30)}
	inv.failCommitOnBatch = 21
	inv.failCompensateOnBatch = 11
	products := fakeProducts{
		1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true},
		2: {ID: 2, Name: "Ibuprofen", SellingPrice: 6, Active: true},
	}
	metrics := &countMetrics{}
	svc := newTestService(newMemorySaleRepo(), inv, products, metrics)

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items: []LineItem{
			{ProductID: 1, Quantity: 4},
			{ProductID: 2, Quantity: 3},
		},
		PaymentMethod: "cash",
	})
	var saleErr *SaleError
	require.ErrorAs(t, err, &saleErr)
	require.Equal(t, DispositionNeedsReview, saleErr.Disposition)
	require.NotNil(t, saleErr.Compensation)
	require.Len(t, saleErr.Compensation.Shortfalls, 1)
	require.Equal(t, int64(11), saleErr.Compensation.Shortfalls[0].BatchID)
	require.Equal(t, int64(4), saleErr.Compensation.Shortfalls[0].Qty)
	require.Equal(t, 1, metrics.compFailures)
}

func TestProcessSaleInsertFailureCompensates(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, 30)}
	products := fakeProducts{1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true}}
	repo := newMemorySaleRepo()
	repo.insertFail = true
	svc := newTestService(repo, inv, products, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items:         []LineItem{{ProductID: 1, Quantity: 4}},
		PaymentMethod: "cash",
	})
	var saleErr *SaleError
	require.ErrorAs(t, err, &saleErr)
	require.Equal(t, DispositionRolledBack, saleErr.Disposition)
	require.Equal(t, int64(10), inv.remaining(1, 11))
}

func TestProcessSaleValidatesInput(t *testing.T) {
	svc := newTestService(newMemorySaleRepo(), newFakeInventory(), fakeProducts{}, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{PaymentMethod: "cash"})
	require.Error(t, err)
	require.True(t, IsNothingApplied(err))

	_, err = svc.ProcessSale(context.Background(), SaleInput{
		Items:         []LineItem{{ProductID: 1, Quantity: 1}},
		PaymentMethod: "bitcoin",
	})
	require.Error(t, err)
	require.True(t, IsNothingApplied(err))
}

func TestProcessSaleDuplicateLinesRefusedOverAvailability(t *testing.T) {
	// Two lines for one product exceed stock only in combination; the second
	// line must plan against what the first already claimed.
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, 30)}
	products := fakeProducts{1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true}}
	repo := newMemorySaleRepo()
	svc := newTestService(repo, inv, products, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items: []LineItem{
			{ProductID: 1, Quantity: 7},
			{ProductID: 1, Quantity: 7},
		},
		PaymentMethod: "cash",
	})
	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, IsNothingApplied(err))
	require.Empty(t, inv.commits)
	require.Empty(t, repo.sales)
}

func TestProcessSaleDuplicateLinesContinueFIFO(t *testing.T) {
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{
		futureBatch(11, 1, 5, 30),
		futureBatch(12, 1, 5, 60),
	}
	products := fakeProducts{1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true}}
	repo := newMemorySaleRepo()
	svc := newTestService(repo, inv, products, &countMetrics{})

	sale, err := svc.ProcessSale(context.Background(), SaleInput{
		Items: []LineItem{
			{ProductID: 1, Quantity: 4},
			{ProductID: 1, Quantity: 4},
		},
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, float64(32), sale.Total)

	// Second line picks up where the first left off in the same batch.
	require.Equal(t, []inventory.Deduction{
		{BatchID: 11, Qty: 4, UnitCost: 1},
		{BatchID: 11, Qty: 1, UnitCost: 1},
		{BatchID: 12, Qty: 3, UnitCost: 1},
	}, inv.commits)
	require.Equal(t, int64(0), inv.remaining(1, 11))
	require.Equal(t, int64(2), inv.remaining(1, 12))
}

func TestProcessSaleGroupsCompensationAcrossLines(t *testing.T) {
	// Two lines draw from the same batch; rollback restores it with one
	// grouped add-back.
	inv := newFakeInventory()
	inv.batches[1] = []inventory.StockBatch{futureBatch(11, 1, 10, 30)}
	inv.batches[2] = []inventory.StockBatch{futureBatch(21, 2, 10, 30)}
	inv.failCommitOnBatch = 21
	products := fakeProducts{
		1: {ID: 1, Name: "Aspirin", SellingPrice: 4, Active: true},
		2: {ID: 2, Name: "Ibuprofen", SellingPrice: 6, Active: true},
	}
	svc := newTestService(newMemorySaleRepo(), inv, products, &countMetrics{})

	_, err := svc.ProcessSale(context.Background(), SaleInput{
		Items: []LineItem{
			{ProductID: 1, Quantity: 3},
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
		PaymentMethod: "cash",
	})
	var saleErr *SaleError
	require.ErrorAs(t, err, &saleErr)
	require.Equal(t, DispositionRolledBack, saleErr.Disposition)
	require.Equal(t, int64(5), inv.compensated[11])
	require.Equal(t, int64(10), inv.remaining(1, 11))
}
