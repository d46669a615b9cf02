package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlertNotFound indicates a missing alert row.
var ErrAlertNotFound = errors.New("alerts: alert not found")

// Repository persists alerts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new alert.
func (r *Repository) Insert(ctx context.Context, a Alert) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO alerts (product_id, batch_id, alert_type, severity, message, expiry_date, read, created_at)
VALUES ($1,$2,$3,$4,$5,$6,FALSE,NOW()) RETURNING id`,
		a.ProductID, nullInt(a.BatchID), string(a.Type), string(a.Severity), a.Message, a.ExpiryDate).Scan(&id)
	return id, err
}

// ExistsRecent reports whether a matching alert was created after the cutoff.
// A zero batch id matches only batchless alerts.
func (r *Repository) ExistsRecent(ctx context.Context, productID int64, alertType AlertType, batchID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM alerts
WHERE product_id=$1 AND alert_type=$2 AND COALESCE(batch_id, 0)=$3 AND created_at >= $4)`,
		productID, string(alertType), batchID, since).Scan(&exists)
	return exists, err
}

// List returns alerts most-recent-first.
func (r *Repository) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]Alert, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, COALESCE(batch_id, 0), alert_type, severity, message, expiry_date, read, created_at
FROM alerts
WHERE ($1 = FALSE OR read = FALSE)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Alert{}
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.ProductID, &a.BatchID, &a.Type, &a.Severity, &a.Message, &a.ExpiryDate, &a.Read, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// MarkRead flips the read flag.
func (r *Repository) MarkRead(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET read=TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// UnreadCount counts unread alerts.
func (r *Repository) UnreadCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE read=FALSE`).Scan(&count)
	return count, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
