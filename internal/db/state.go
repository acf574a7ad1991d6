// Package db provides the durable local record store for Finch Core.
package db

import "database/sql"

// LastSyncAt returns the pull watermark for a table. A table never
// pulled reports zero.
func (r *Repository) LastSyncAt(table string) (int64, error) {
	var ts int64
	err := r.db.QueryRow(
		`SELECT last_sync_at FROM sync_state WHERE table_name = ?`, table).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return ts, err
}

// SetLastSyncAtTx advances the pull watermark inside the caller's
// transaction, so the cursor commits atomically with the applied
// records. A crash mid-pull re-pulls the same window, which is safe:
// application is last-writer-wins and therefore idempotent.
func (r *Repository) SetLastSyncAtTx(tx *sql.Tx, table string, ts int64) error {
	_, err := tx.Exec(
		`INSERT INTO sync_state (table_name, last_sync_at) VALUES (?, ?)
		 ON CONFLICT(table_name) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
		table, ts)
	return err
}
