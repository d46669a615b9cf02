package stocktake

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
)

// world is the shared in-memory state behind the repo and ledger fakes, so
// tests can assert the ledger sum and batch records together.
type world struct {
	sessions  map[int64]*Session
	items     map[int64]*Item
	batches   map[int64]*inventory.StockBatch
	movements []inventory.StockMovement

	nextSessionID  int64
	nextItemID     int64
	nextMovementID int64

	failDecrementProduct int64
}

func newWorld() *world {
	return &world{
		sessions: map[int64]*Session{},
		items:    map[int64]*Item{},
		batches:  map[int64]*inventory.StockBatch{},
	}
}

func (w *world) ledgerSum(productID int64) int64 {
	var sum int64
	for _, m := range w.movements {
		if m.ProductID == productID {
			sum += m.Quantity
		}
	}
	return sum
}

func (w *world) addMovement(productID, qty int64) {
	w.nextMovementID++
	w.movements = append(w.movements, inventory.StockMovement{ID: w.nextMovementID, ProductID: productID, Quantity: qty})
}

func (w *world) addBatch(id, productID, qty int64, receivedAt time.Time) {
	w.batches[id] = &inventory.StockBatch{
		ID:           id,
		ProductID:    productID,
		BatchNumber:  "B",
		ExpiryDate:   time.Now().UTC().AddDate(0, 6, 0),
		UnitCost:     1,
		RemainingQty: qty,
		ReceivedAt:   receivedAt,
	}
}

type memoryRepo struct {
	w *world
}

func (r *memoryRepo) InsertSession(ctx context.Context, s Session) (Session, error) {
	r.w.nextSessionID++
	s.ID = r.w.nextSessionID
	s.Status = StatusCounting
	s.CreatedAt = time.Now().UTC()
	copied := s
	r.w.sessions[s.ID] = &copied
	return s, nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id int64) (Session, error) {
	if s, ok := r.w.sessions[id]; ok {
		return *s, nil
	}
	return Session{}, ErrSessionNotFound
}

func (r *memoryRepo) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	result := []Session{}
	for _, s := range r.w.sessions {
		result = append(result, *s)
	}
	return result, nil
}

func (r *memoryRepo) SetSessionStatus(ctx context.Context, id int64, from, to Status) error {
	s, ok := r.w.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != from {
		return ErrSessionClosed
	}
	s.Status = to
	if to == StatusApproved {
		now := time.Now().UTC()
		s.ApprovedAt = &now
	}
	return nil
}

func (r *memoryRepo) UpsertItem(ctx context.Context, item Item) (Item, error) {
	for _, existing := range r.w.items {
		if existing.SessionID == item.SessionID && existing.ProductID == item.ProductID {
			existing.SystemQuantity = item.SystemQuantity
			existing.CountedQuantity = item.CountedQuantity
			existing.Variance = item.Variance
			existing.CountedAt = time.Now().UTC()
			return *existing, nil
		}
	}
	r.w.nextItemID++
	item.ID = r.w.nextItemID
	item.CountedAt = time.Now().UTC()
	copied := item
	r.w.items[item.ID] = &copied
	return item, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, sessionID int64) ([]Item, error) {
	result := []Item{}
	for _, item := range r.w.items {
		if item.SessionID == sessionID {
			result = append(result, *item)
		}
	}
	return result, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot so a failed callback leaves no partial writes, matching the
	// real repository's transaction semantics.
	backupBatches := map[int64]inventory.StockBatch{}
	for id, b := range r.w.batches {
		backupBatches[id] = *b
	}
	backupItems := map[int64]Item{}
	for id, item := range r.w.items {
		backupItems[id] = *item
	}
	backupMovements := len(r.w.movements)

	if err := fn(ctx, &memoryTx{w: r.w}); err != nil {
		for id := range r.w.batches {
			b := backupBatches[id]
			r.w.batches[id] = &b
		}
		for id := range r.w.items {
			item := backupItems[id]
			r.w.items[id] = &item
		}
		r.w.movements = r.w.movements[:backupMovements]
		return err
	}
	return nil
}

type memoryTx struct {
	w *world
}

func (t *memoryTx) LockItem(ctx context.Context, itemID int64) (Item, error) {
	if item, ok := t.w.items[itemID]; ok {
		return *item, nil
	}
	return Item{}, ErrItemNotFound
}

func (t *memoryTx) InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error) {
	t.w.nextMovementID++
	m.ID = t.w.nextMovementID
	t.w.movements = append(t.w.movements, m)
	return m.ID, nil
}

func (t *memoryTx) DecrementBatch(ctx context.Context, batchID, qty int64) error {
	b, ok := t.w.batches[batchID]
	if !ok {
		return inventory.ErrBatchNotFound
	}
	if t.w.failDecrementProduct != 0 && b.ProductID == t.w.failDecrementProduct {
		return inventory.ErrBatchConflict
	}
	if b.RemainingQty < qty {
		return inventory.ErrBatchConflict
	}
	b.RemainingQty -= qty
	return nil
}

func (t *memoryTx) IncrementBatch(ctx context.Context, batchID, qty int64) error {
	b, ok := t.w.batches[batchID]
	if !ok {
		return inventory.ErrBatchNotFound
	}
	b.RemainingQty += qty
	return nil
}

func (t *memoryTx) ListOpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error) {
	result := []inventory.StockBatch{}
	for _, b := range t.w.batches {
		if b.ProductID == productID && b.RemainingQty > 0 {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (t *memoryTx) NewestOpenBatch(ctx context.Context, productID int64) (inventory.StockBatch, error) {
	var newest *inventory.StockBatch
	for _, b := range t.w.batches {
		if b.ProductID != productID || b.RemainingQty <= 0 {
			continue
		}
		if newest == nil || b.ReceivedAt.After(newest.ReceivedAt) {
			newest = b
		}
	}
	if newest == nil {
		return inventory.StockBatch{}, fmt.Errorf("newest open batch: %w", inventory.ErrBatchNotFound)
	}
	return *newest, nil
}

func (t *memoryTx) MarkItemAdjusted(ctx context.Context, itemID, movementID int64) error {
	item, ok := t.w.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if item.Adjusted {
		return ErrItemAdjusted
	}
	item.Adjusted = true
	item.MovementID = movementID
	return nil
}

type worldLedger struct {
	w *world
}

func (l *worldLedger) CurrentQuantity(ctx context.Context, productID int64) (int64, error) {
	return l.w.ledgerSum(productID), nil
}

type fakeCatalog map[int64]catalog.Product

func (c fakeCatalog) Get(ctx context.Context, id int64) (catalog.Product, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

func newTestService(w *world, products fakeCatalog) *Service {
	return NewService(&memoryRepo{w: w}, &worldLedger{w: w}, products, nil, nil, nil)
}

func TestRecordCountComputesVariance(t *testing.T) {
	w := newWorld()
	w.addMovement(1, 10)
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{Notes: "monthly count"})
	require.NoError(t, err)

	item, err := svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 7})
	require.NoError(t, err)
	require.Equal(t, int64(10), item.SystemQuantity)
	require.Equal(t, int64(-3), item.Variance)

	// Recounting after a stock change refreshes system quantity and variance.
	w.addMovement(1, -4)
	item, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 7})
	require.NoError(t, err)
	require.Equal(t, int64(6), item.SystemQuantity)
	require.Equal(t, int64(1), item.Variance)
}

func TestApproveReconcilesLedgerToCount(t *testing.T) {
	w := newWorld()
	w.addMovement(1, 10)
	w.addBatch(11, 1, 10, time.Now().UTC())
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 7})
	require.NoError(t, err)

	result, err := svc.Approve(ctx, session.ID, 9)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsAdjusted)
	require.Empty(t, result.Failures)

	// The ledger now agrees with the physical count, and the batch followed.
	require.Equal(t, int64(7), w.ledgerSum(1))
	require.Equal(t, int64(7), w.batches[11].RemainingQty)

	detail, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, detail.Session.Status)
	require.True(t, detail.Items[0].Adjusted)
	require.NotZero(t, detail.Items[0].MovementID)
}

func TestApprovePositiveVarianceCreditsNewestBatch(t *testing.T) {
	w := newWorld()
	w.addMovement(1, 5)
	w.addBatch(11, 1, 2, time.Now().UTC().Add(-48*time.Hour))
	w.addBatch(12, 1, 3, time.Now().UTC())
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 8})
	require.NoError(t, err)

	result, err := svc.Approve(ctx, session.ID, 9)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsAdjusted)

	require.Equal(t, int64(8), w.ledgerSum(1))
	require.Equal(t, int64(2), w.batches[11].RemainingQty)
	require.Equal(t, int64(6), w.batches[12].RemainingQty)
}

func TestApprovePositiveVarianceWithoutOpenBatches(t *testing.T) {
	// Surplus found with no open batch to credit; the movement alone carries
	// the variance.
	w := newWorld()
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 4})
	require.NoError(t, err)

	result, err := svc.Approve(ctx, session.ID, 9)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsAdjusted)
	require.Empty(t, result.Failures)
	require.Equal(t, int64(4), w.ledgerSum(1))
}

func TestApproveDrainCapsAtBatchAvailability(t *testing.T) {
	// Ledger says 10 but batch records only hold 3; the movement still
	// carries the full variance so the ledger lands on the counted truth.
	w := newWorld()
	w.addMovement(1, 10)
	w.addBatch(11, 1, 3, time.Now().UTC())
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 5})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, session.ID, 9)
	require.NoError(t, err)
	require.Equal(t, int64(5), w.ledgerSum(1))
	require.Zero(t, w.batches[11].RemainingQty)
}

func TestApprovePerItemIndependence(t *testing.T) {
	w := newWorld()
	w.addMovement(1, 10)
	w.addMovement(2, 10)
	w.addBatch(11, 1, 10, time.Now().UTC())
	w.addBatch(21, 2, 10, time.Now().UTC())
	w.failDecrementProduct = 2
	products := fakeCatalog{
		1: {ID: 1, Name: "Aspirin", Active: true},
		2: {ID: 2, Name: "Ibuprofen", Active: true},
	}
	svc := newTestService(w, products)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 8})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 2, CountedQuantity: 6})
	require.NoError(t, err)

	result, err := svc.Approve(ctx, session.ID, 9)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsAdjusted)
	require.Len(t, result.Failures, 1)
	require.Equal(t, int64(2), result.Failures[0].ProductID)

	// Product 1 was reconciled; product 2 was left untouched.
	require.Equal(t, int64(8), w.ledgerSum(1))
	require.Equal(t, int64(10), w.ledgerSum(2))
	require.Equal(t, int64(10), w.batches[21].RemainingQty)
}

func TestApproveSkipsZeroVariance(t *testing.T) {
	w := newWorld()
	w.addMovement(1, 10)
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 10})
	require.NoError(t, err)

	result, err := svc.Approve(ctx, session.ID, 9)
	require.NoError(t, err)
	require.Zero(t, result.ItemsAdjusted)
	require.Equal(t, 1, result.ItemsSkipped)
	require.Equal(t, int64(10), w.ledgerSum(1))
}

func TestClosedSessionRejectsCountsAndApproval(t *testing.T) {
	w := newWorld()
	svc := newTestService(w, fakeCatalog{1: {ID: 1, Name: "Aspirin", Active: true}})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, session.ID, 9))

	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 1, CountedQuantity: 5})
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = svc.Approve(ctx, session.ID, 9)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRecordCountUnknownProduct(t *testing.T) {
	w := newWorld()
	svc := newTestService(w, fakeCatalog{})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionInput{})
	require.NoError(t, err)

	_, err = svc.RecordCount(ctx, CountInput{SessionID: session.ID, ProductID: 42, CountedQuantity: 5})
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}
