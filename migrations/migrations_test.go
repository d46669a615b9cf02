package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The repositories write raw SQL against these tables; every column they name
// must exist in the initial schema or inserts fail at runtime.
func TestInitSchemaCoversRepositoryColumns(t *testing.T) {
	raw, err := FS.ReadFile("000001_init.up.sql")
	require.NoError(t, err)
	schema := string(raw)

	columns := map[string][]string{
		"products":            {"name", "category", "manufacturer", "selling_price", "reorder_point", "active", "created_at", "updated_at"},
		"stock_batches":       {"product_id", "batch_number", "expiry_date", "unit_cost", "remaining_qty", "received_at"},
		"stock_movements":     {"product_id", "batch_id", "movement_type", "quantity", "unit_cost", "selling_price", "reason", "reference", "actor_id", "created_at"},
		"alerts":              {"product_id", "batch_id", "alert_type", "severity", "message", "expiry_date", "read", "created_at"},
		"sales":               {"total", "payment_method", "cashier_id", "created_at"},
		"sale_items":          {"sale_id", "product_id", "quantity", "unit_price", "subtotal"},
		"stocktake_sessions":  {"notes", "status", "created_by", "created_at", "approved_at"},
		"stocktake_items":     {"session_id", "product_id", "system_quantity", "counted_quantity", "variance", "adjusted", "movement_id", "counted_at"},
		"audit_logs":          {"actor_id", "action", "entity", "entity_id", "meta", "occurred_at"},
		"idempotency_keys":    {"key", "module", "created_at"},
		"valuation_snapshots": {"total_retail_value", "total_cost_value", "excluded_batches", "taken_at"},
	}

	for table, cols := range columns {
		start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
		require.GreaterOrEqual(t, start, 0, "table %s missing from schema", table)
		block := schema[start:]
		end := strings.Index(block, ";")
		require.Greater(t, end, 0)
		block = block[:end]
		for _, col := range cols {
			require.Contains(t, block, "\n    "+col+" ", "table %s missing column %s", table, col)
		}
	}
}
