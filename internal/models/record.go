// Package models provides data model definitions for Finch Core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Operation identifies the kind of local mutation captured for sync.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// SyncMeta carries the sync columns shared by every syncable entity.
// Records are identified by a client-generated UUID that is stable across
// sync. UpdatedAt is the sole conflict-resolution key and must never
// decrease. A non-nil DeletedAt is a soft-delete tombstone: the row is
// excluded from reads but still participates in sync until the remote
// confirms the purge.
type SyncMeta struct {
	ID        UUID    `db:"id" json:"id"`
	UserID    *string `db:"user_id" json:"user_id,omitempty"`
	CreatedAt int64   `db:"created_at" json:"created_at"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
	DeletedAt *int64  `db:"deleted_at" json:"deleted_at,omitempty"`
	SyncedAt  *int64  `db:"synced_at" json:"synced_at,omitempty"`
}

// IsDeleted reports whether the record carries a tombstone.
func (m *SyncMeta) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Touch advances UpdatedAt to now without ever moving it backwards, and
// clears the sync marker: the record now differs from the last state the
// remote acknowledged.
func (m *SyncMeta) Touch(now time.Time) {
	ts := now.Unix()
	if ts < m.UpdatedAt {
		ts = m.UpdatedAt
	}
	m.UpdatedAt = ts
	m.SyncedAt = nil
}

// MarkDeleted stamps the tombstone and advances UpdatedAt so the deletion
// itself wins last-writer-wins against older remote versions.
func (m *SyncMeta) MarkDeleted(now time.Time) {
	ts := now.Unix()
	m.DeletedAt = &ts
	m.Touch(now)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (m *SyncMeta) UpdatedAtTime() time.Time {
	return time.Unix(m.UpdatedAt, 0)
}
