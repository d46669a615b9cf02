package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSaleNotFound indicates a missing sale row.
var ErrSaleNotFound = errors.New("sales: sale not found")

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertSale stores the sale header and its items atomically.
func (r *Repository) InsertSale(ctx context.Context, sale Sale) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `INSERT INTO sales (id, total, payment_method, cashier_id, created_at)
VALUES ($1,$2,$3,$4,NOW())`, sale.ID, sale.Total, sale.PaymentMethod, nullInt(sale.CashierID)); err != nil {
		return err
	}
	for _, item := range sale.Items {
		if _, err := tx.Exec(ctx, `INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, subtotal)
VALUES ($1,$2,$3,$4,$5)`, sale.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetSale fetches one sale with its items.
func (r *Repository) GetSale(ctx context.Context, id string) (Sale, error) {
	var sale Sale
	err := r.pool.QueryRow(ctx, `SELECT id, total, payment_method, COALESCE(cashier_id, 0), created_at FROM sales WHERE id=$1`, id).
		Scan(&sale.ID, &sale.Total, &sale.PaymentMethod, &sale.CashierID, &sale.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT si.product_id, p.name, si.quantity, si.unit_price, si.subtotal
FROM sale_items si JOIN products p ON p.id = si.product_id
WHERE si.sale_id=$1 ORDER BY si.id ASC`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return Sale{}, err
		}
		sale.Items = append(sale.Items, item)
	}
	return sale, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
