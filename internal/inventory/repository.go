package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galenica/galenica/internal/platform/db"
)

// Repository persists ledger movements and batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by services.
type TxRepository interface {
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
	InsertBatch(ctx context.Context, b StockBatch) (int64, error)
	GetBatch(ctx context.Context, batchID int64) (StockBatch, error)
	DecrementBatch(ctx context.Context, batchID, qty int64) error
	IncrementBatch(ctx context.Context, batchID, qty int64) error
	ListOpenBatches(ctx context.Context, productID int64) ([]StockBatch, error)
	NewestOpenBatch(ctx context.Context, productID int64) (StockBatch, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// SumMovements returns the ledger quantity for one product. The aggregation is
// a plain sum, so it is independent of movement insertion order.
func (r *Repository) SumMovements(ctx context.Context, productID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&qty)
	return qty, err
}

// SumMovementsAll returns ledger quantities grouped by product.
func (r *Repository) SumMovementsAll(ctx context.Context) (map[int64]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, COALESCE(SUM(quantity), 0) FROM stock_movements GROUP BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[int64]int64)
	for rows.Next() {
		var productID, qty int64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	return result, rows.Err()
}

// ListMovements lists ledger entries most-recent-first for display.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, COALESCE(batch_id, 0), movement_type, quantity, unit_cost, COALESCE(selling_price, 0), COALESCE(reason, ''), COALESCE(reference, ''), COALESCE(actor_id, 0), created_at
FROM stock_movements
WHERE ($1 = 0 OR product_id = $1) AND ($2 = '' OR movement_type = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, filter.ProductID, string(filter.Type), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []StockMovement{}
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.Type, &m.Quantity, &m.UnitCost, &m.SellingPrice, &m.Reason, &m.Reference, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListOpenBatches fetches batches with stock left, ordered FIFO by expiry.
func (r *Repository) ListOpenBatches(ctx context.Context, productID int64) ([]StockBatch, error) {
	return scanBatches(r.pool.Query(ctx, openBatchesSQL+` AND product_id=$1 ORDER BY expiry_date ASC, id ASC`, productID))
}

// ListAllOpenBatches fetches every batch with stock left, for valuation.
func (r *Repository) ListAllOpenBatches(ctx context.Context) ([]StockBatch, error) {
	return scanBatches(r.pool.Query(ctx, openBatchesSQL + ` ORDER BY product_id ASC, expiry_date ASC, id ASC`))
}

// InsertValuationSnapshot stores a derived valuation row for trend reporting.
func (r *Repository) InsertValuationSnapshot(ctx context.Context, v Valuation) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO valuation_snapshots (total_retail_value, total_cost_value, excluded_batches, taken_at)
VALUES ($1,$2,$3,NOW())`, v.TotalRetailValue, v.TotalCostValue, len(v.ExcludedBatches))
	return err
}

const openBatchesSQL = `SELECT id, product_id, batch_number, expiry_date, unit_cost, remaining_qty, received_at
FROM stock_batches
WHERE remaining_qty > 0`

const batchByIDSQL = `SELECT id, product_id, batch_number, expiry_date, unit_cost, remaining_qty, received_at
FROM stock_batches WHERE id=$1`

func scanBatches(rows pgx.Rows, err error) ([]StockBatch, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []StockBatch{}
	for rows.Next() {
		var b StockBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ExpiryDate, &b.UnitCost, &b.RemainingQty, &b.ReceivedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, batch_id, movement_type, quantity, unit_cost, selling_price, reason, reference, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		m.ProductID, nullInt(m.BatchID), string(m.Type), m.Quantity, m.UnitCost, nullFloat(m.SellingPrice), m.Reason, m.Reference, nullInt(m.ActorID)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBatch(ctx context.Context, b StockBatch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (product_id, batch_number, expiry_date, unit_cost, remaining_qty, received_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		b.ProductID, b.BatchNumber, b.ExpiryDate, b.UnitCost, b.RemainingQty).Scan(&id)
	return id, err
}

func (r *txRepository) GetBatch(ctx context.Context, batchID int64) (StockBatch, error) {
	var b StockBatch
	err := r.tx.QueryRow(ctx, batchByIDSQL, batchID).
		Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ExpiryDate, &b.UnitCost, &b.RemainingQty, &b.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockBatch{}, ErrBatchNotFound
	}
	return b, err
}

// DecrementBatch applies a conditional decrement: the update only lands when
// the remaining quantity still covers the draw, so concurrent allocations on
// the same batch cannot race it negative.
func (r *txRepository) DecrementBatch(ctx context.Context, batchID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET remaining_qty = remaining_qty - $2 WHERE id=$1 AND remaining_qty >= $2`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetBatch(ctx, batchID); errors.Is(err, ErrBatchNotFound) {
			return ErrBatchNotFound
		}
		return ErrBatchConflict
	}
	return nil
}

// IncrementBatch restores quantity, used by stocktake corrections and sale
// compensation.
func (r *txRepository) IncrementBatch(ctx context.Context, batchID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET remaining_qty = remaining_qty + $2 WHERE id=$1`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) ListOpenBatches(ctx context.Context, productID int64) ([]StockBatch, error) {
	return scanBatches(r.tx.Query(ctx, openBatchesSQL+` AND product_id=$1 ORDER BY expiry_date ASC, id ASC`, productID))
}

// NewestOpenBatch returns the most recently received batch with stock left.
func (r *txRepository) NewestOpenBatch(ctx context.Context, productID int64) (StockBatch, error) {
	var b StockBatch
	err := r.tx.QueryRow(ctx, openBatchesSQL+` AND product_id=$1 ORDER BY received_at DESC, id DESC LIMIT 1`, productID).
		Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ExpiryDate, &b.UnitCost, &b.RemainingQty, &b.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockBatch{}, ErrBatchNotFound
	}
	return b, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullFloat(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}
