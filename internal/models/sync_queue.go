// Package models provides data model definitions for Finch Core.
package models

import (
	"encoding/json"
	"time"
)

// QueueEntry represents a pending outbound mutation in the sync queue.
// At most one non-terminal entry exists per (TableName, RecordID); new
// local mutations coalesce into it instead of appending duplicates, so
// replay stays idempotent and bandwidth bounded.
type QueueEntry struct {
	Seq              int64           `db:"seq" json:"seq"`
	TableName        string          `db:"table_name" json:"table_name"`
	RecordID         UUID            `db:"record_id" json:"record_id"`
	Operation        Operation       `db:"operation" json:"operation"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	Attempts         int             `db:"attempts" json:"attempts"`
	LastAttemptAt    *int64          `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	ErrorMessage     string          `db:"error_message" json:"error_message"`
	TerminallyFailed bool            `db:"terminally_failed" json:"terminally_failed"`
	CreatedAt        int64           `db:"created_at" json:"created_at"`
}

// DecodePayload deserializes the snapshot carried by the entry.
func (q *QueueEntry) DecodePayload() (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(q.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NextEligibleAt returns when the entry may next be attempted, given the
// base backoff delay and its cap: last attempt + base * 2^(attempts-1),
// capped. Entries that never failed are immediately eligible.
func (q *QueueEntry) NextEligibleAt(base, max time.Duration) time.Time {
	if q.Attempts == 0 || q.LastAttemptAt == nil {
		return time.Unix(q.CreatedAt, 0)
	}
	delay := base
	for i := 1; i < q.Attempts; i++ {
		if delay >= max {
			break
		}
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return time.Unix(*q.LastAttemptAt, 0).Add(delay)
}
