// Package db provides the durable local record store for Finch Core.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finch-app/finch-core/internal/models"
)

// EnqueueOutcome describes what a coalescing enqueue did.
type EnqueueOutcome string

const (
	// EnqueueQueued means a new queue entry was appended.
	EnqueueQueued EnqueueOutcome = "queued"
	// EnqueueCoalesced means an existing pending entry absorbed the
	// mutation (payload replaced, attempts preserved).
	EnqueueCoalesced EnqueueOutcome = "coalesced"
	// EnqueueDropped means a delete cancelled a never-pushed create:
	// the record never reached the remote, so nothing is queued at all.
	EnqueueDropped EnqueueOutcome = "dropped"
)

// EnqueueTx upserts the queue entry for a mutation inside the caller's
// transaction, coalescing with any pending entry for the same record.
func (r *Repository) EnqueueTx(tx *sql.Tx, op models.Operation, p *models.Payload, now time.Time) (EnqueueOutcome, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}

	var seq int64
	var existingOp models.Operation
	err = tx.QueryRow(
		`SELECT seq, operation FROM sync_queue
		 WHERE table_name = ? AND record_id = ? AND terminally_failed = 0`,
		p.Table, p.Meta().ID,
	).Scan(&seq, &existingOp)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO sync_queue (table_name, record_id, operation, payload, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			p.Table, p.Meta().ID, string(op), string(raw), now.Unix(),
		)
		if err != nil {
			return "", err
		}
		return EnqueueQueued, nil

	case err != nil:
		return "", err
	}

	// Delete coalescing onto a pending create: the record was never
	// pushed, so the remote must never see it. Drop the entry.
	if existingOp == models.OpCreate && op == models.OpDelete {
		if _, err := tx.Exec(`DELETE FROM sync_queue WHERE seq = ?`, seq); err != nil {
			return "", err
		}
		return EnqueueDropped, nil
	}

	// A create followed by updates still has to arrive as a create.
	effectiveOp := op
	if existingOp == models.OpCreate && op == models.OpUpdate {
		effectiveOp = models.OpCreate
	}

	// The fresh snapshot starts clean: a previously booked push error
	// no longer describes what the entry carries. Attempt bookkeeping
	// stays so backoff keeps pacing a flapping remote.
	_, err = tx.Exec(
		`UPDATE sync_queue SET operation = ?, payload = ?, error_message = '' WHERE seq = ?`,
		string(effectiveOp), string(raw), seq,
	)
	if err != nil {
		return "", err
	}
	return EnqueueCoalesced, nil
}

const queueColumns = `seq, table_name, record_id, operation, payload,
	attempts, last_attempt_at, error_message, terminally_failed, created_at`

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var q models.QueueEntry
	var op, payload string
	var lastAttempt sql.NullInt64
	if err := row.Scan(&q.Seq, &q.TableName, &q.RecordID, &op, &payload,
		&q.Attempts, &lastAttempt, &q.ErrorMessage, &q.TerminallyFailed, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Operation = models.Operation(op)
	q.Payload = json.RawMessage(payload)
	if lastAttempt.Valid {
		v := lastAttempt.Int64
		q.LastAttemptAt = &v
	}
	return &q, nil
}

// PendingQueue returns up to limit pending entries in FIFO order,
// approximating the causal order of local edits. Terminally failed
// entries are excluded.
func (r *Repository) PendingQueue(limit int) ([]*models.QueueEntry, error) {
	stmt, err := r.prepare(
		`SELECT ` + queueColumns + ` FROM sync_queue
		 WHERE terminally_failed = 0 ORDER BY seq ASC LIMIT ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueueEntry
	for rows.Next() {
		q, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// QueueEntryFor returns the pending entry for a record, or sql.ErrNoRows.
func (r *Repository) QueueEntryFor(table string, id models.UUID) (*models.QueueEntry, error) {
	stmt, err := r.prepare(
		`SELECT ` + queueColumns + ` FROM sync_queue
		 WHERE table_name = ? AND record_id = ? AND terminally_failed = 0`)
	if err != nil {
		return nil, err
	}
	return scanQueueEntry(stmt.QueryRow(table, id))
}

// AcknowledgeQueueEntryTx removes the entry only while it still carries
// the pushed payload snapshot, reporting whether it did. An edit that
// coalesced in while the push was on the wire changes the stored
// payload; the entry then survives the acknowledgment and carries the
// newer snapshot to the remote.
func (r *Repository) AcknowledgeQueueEntryTx(tx *sql.Tx, seq int64, payload json.RawMessage) (bool, error) {
	res, err := tx.Exec(
		`DELETE FROM sync_queue WHERE seq = ? AND payload = ?`, seq, string(payload))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteQueueEntryForTx removes the pending entry for a record, if any.
// Used when a pulled remote version supersedes the queued local edit.
func (r *Repository) DeleteQueueEntryForTx(tx *sql.Tx, table string, id models.UUID) error {
	_, err := tx.Exec(
		`DELETE FROM sync_queue WHERE table_name = ? AND record_id = ? AND terminally_failed = 0`,
		table, id)
	return err
}

// RecordQueueFailure books a transient failure on an entry: attempts
// incremented, last attempt stamped, failure reason recorded. The entry
// stays pending and becomes eligible again after backoff.
func (r *Repository) RecordQueueFailure(seq int64, at int64, reason string) error {
	_, err := r.db.Exec(
		`UPDATE sync_queue SET attempts = attempts + 1, last_attempt_at = ?, error_message = ?
		 WHERE seq = ?`, at, reason, seq)
	return err
}

// MarkQueueTerminal flags an entry as permanently failed. It keeps its
// attempt history but drops out of automatic retries, awaiting manual
// resolution. Never silently deleted.
func (r *Repository) MarkQueueTerminal(seq int64, at int64, reason string) error {
	_, err := r.db.Exec(
		`UPDATE sync_queue SET terminally_failed = 1, last_attempt_at = ?, error_message = ?
		 WHERE seq = ?`, at, reason, seq)
	return err
}

// TerminalQueueEntries returns entries awaiting manual resolution.
func (r *Repository) TerminalQueueEntries() ([]*models.QueueEntry, error) {
	stmt, err := r.prepare(
		`SELECT ` + queueColumns + ` FROM sync_queue
		 WHERE terminally_failed = 1 ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueueEntry
	for rows.Next() {
		q, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// PendingQueueSize returns the number of pending entries.
func (r *Repository) PendingQueueSize() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE terminally_failed = 0`).Scan(&n)
	return n, err
}
