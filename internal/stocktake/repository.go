package stocktake

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/platform/db"
)

// Repository persists stocktake sessions and items in PostgreSQL. Approval
// needs the ledger and batch tables in the same transaction as the item flag,
// so the transactional interface spans both.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations one item reconciliation needs.
type TxRepository interface {
	LockItem(ctx context.Context, itemID int64) (Item, error)
	InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error)
	DecrementBatch(ctx context.Context, batchID, qty int64) error
	IncrementBatch(ctx context.Context, batchID, qty int64) error
	ListOpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error)
	NewestOpenBatch(ctx context.Context, productID int64) (inventory.StockBatch, error)
	MarkItemAdjusted(ctx context.Context, itemID, movementID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// InsertSession creates a session in counting state.
func (r *Repository) InsertSession(ctx context.Context, s Session) (Session, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO stocktake_sessions (notes, status, created_by, created_at)
VALUES ($1,$2,$3,NOW()) RETURNING id, created_at`,
		s.Notes, string(StatusCounting), nullInt(s.CreatedBy)).Scan(&s.ID, &s.CreatedAt)
	s.Status = StatusCounting
	return s, err
}

// GetSession fetches one session.
func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx, `SELECT id, COALESCE(notes, ''), status, COALESCE(created_by, 0), created_at, approved_at
FROM stocktake_sessions WHERE id=$1`, id).
		Scan(&s.ID, &s.Notes, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// ListSessions lists sessions most recent first.
func (r *Repository) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(notes, ''), status, COALESCE(created_by, 0), created_at, approved_at
FROM stocktake_sessions ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Notes, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.ApprovedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SetSessionStatus transitions a session out of counting. The guard on the
// current status makes the transition idempotent under concurrent approvals.
func (r *Repository) SetSessionStatus(ctx context.Context, id int64, from, to Status) error {
	stamp := "NULL"
	if to == StatusApproved {
		stamp = "NOW()"
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stocktake_sessions SET status=$3, approved_at=`+stamp+` WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrSessionClosed
	}
	return nil
}

// UpsertItem records a count, replacing any previous count for the product.
func (r *Repository) UpsertItem(ctx context.Context, item Item) (Item, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO stocktake_items (session_id, product_id, system_quantity, counted_quantity, variance, adjusted, counted_at)
VALUES ($1,$2,$3,$4,$5,FALSE,NOW())
ON CONFLICT (session_id, product_id) DO UPDATE
SET system_quantity=EXCLUDED.system_quantity, counted_quantity=EXCLUDED.counted_quantity, variance=EXCLUDED.variance, counted_at=NOW()
RETURNING id, counted_at`,
		item.SessionID, item.ProductID, item.SystemQuantity, item.CountedQuantity, item.Variance).Scan(&item.ID, &item.CountedAt)
	return item, err
}

// ListItems lists the items of one session.
func (r *Repository) ListItems(ctx context.Context, sessionID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, product_id, system_quantity, counted_quantity, variance, adjusted, COALESCE(movement_id, 0), counted_at
FROM stocktake_items WHERE session_id=$1 ORDER BY product_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.SessionID, &item.ProductID, &item.SystemQuantity, &item.CountedQuantity, &item.Variance, &item.Adjusted, &item.MovementID, &item.CountedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// LockItem fetches an item FOR UPDATE so concurrent approvals serialize on it.
func (r *txRepository) LockItem(ctx context.Context, itemID int64) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `SELECT id, session_id, product_id, system_quantity, counted_quantity, variance, adjusted, COALESCE(movement_id, 0), counted_at
FROM stocktake_items WHERE id=$1 FOR UPDATE`, itemID).
		Scan(&item.ID, &item.SessionID, &item.ProductID, &item.SystemQuantity, &item.CountedQuantity, &item.Variance, &item.Adjusted, &item.MovementID, &item.CountedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (r *txRepository) InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, batch_id, movement_type, quantity, unit_cost, selling_price, reason, reference, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,NULL,$6,$7,$8,NOW()) RETURNING id`,
		m.ProductID, nullInt(m.BatchID), string(m.Type), m.Quantity, m.UnitCost, m.Reason, m.Reference, nullInt(m.ActorID)).Scan(&id)
	return id, err
}

// DecrementBatch mirrors the ledger repository's conditional decrement.
func (r *txRepository) DecrementBatch(ctx context.Context, batchID, qty int64) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET remaining_qty = remaining_qty - $2 WHERE id=$1 AND remaining_qty >= $2`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrBatchConflict
	}
	return nil
}

func (r *txRepository) IncrementBatch(ctx context.Context, batchID, qty int64) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET remaining_qty = remaining_qty + $2 WHERE id=$1`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) ListOpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, batch_number, expiry_date, unit_cost, remaining_qty, received_at
FROM stock_batches WHERE remaining_qty > 0 AND product_id=$1 ORDER BY expiry_date ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []inventory.StockBatch{}
	for rows.Next() {
		var b inventory.StockBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ExpiryDate, &b.UnitCost, &b.RemainingQty, &b.ReceivedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) NewestOpenBatch(ctx context.Context, productID int64) (inventory.StockBatch, error) {
	var b inventory.StockBatch
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, batch_number, expiry_date, unit_cost, remaining_qty, received_at
FROM stock_batches WHERE remaining_qty > 0 AND product_id=$1 ORDER BY received_at DESC, id DESC LIMIT 1`, productID).
		Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ExpiryDate, &b.UnitCost, &b.RemainingQty, &b.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.StockBatch{}, inventory.ErrBatchNotFound
	}
	return b, err
}

func (r *txRepository) MarkItemAdjusted(ctx context.Context, itemID, movementID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stocktake_items SET adjusted=TRUE, movement_id=$2 WHERE id=$1 AND adjusted=FALSE`, itemID, movementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemAdjusted
	}
	return nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
