// Package db provides the durable local record store for Finch Core.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/finch-app/finch-core/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// tableSpec binds one syncable table to the payload union: its column
// list plus typed bind/scan functions. All tables share the sync columns
// (id, user_id leading; created_at, updated_at, deleted_at, synced_at
// trailing) with the domain columns in between.
type tableSpec struct {
	columns []string
	args    func(p *models.Payload) []interface{}
	scan    func(row rowScanner) (*models.Payload, error)
}

// metaArgs flattens the shared sync columns for binding.
func metaArgs(m *models.SyncMeta) (lead []interface{}, trail []interface{}) {
	var userID interface{}
	if m.UserID != nil {
		userID = *m.UserID
	}
	var deletedAt, syncedAt interface{}
	if m.DeletedAt != nil {
		deletedAt = *m.DeletedAt
	}
	if m.SyncedAt != nil {
		syncedAt = *m.SyncedAt
	}
	return []interface{}{m.ID, userID},
		[]interface{}{m.CreatedAt, m.UpdatedAt, deletedAt, syncedAt}
}

// metaScan adapts the nullable sync columns back onto a SyncMeta.
type metaScan struct {
	userID    sql.NullString
	deletedAt sql.NullInt64
	syncedAt  sql.NullInt64
}

func (s *metaScan) apply(m *models.SyncMeta) {
	if s.userID.Valid {
		v := s.userID.String
		m.UserID = &v
	}
	if s.deletedAt.Valid {
		v := s.deletedAt.Int64
		m.DeletedAt = &v
	}
	if s.syncedAt.Valid {
		v := s.syncedAt.Int64
		m.SyncedAt = &v
	}
}

var tableSpecs = map[string]*tableSpec{
	"expenses": {
		columns: []string{"id", "user_id", "amount", "category", "note", "spent_at", "created_at", "updated_at", "deleted_at", "synced_at"},
		args: func(p *models.Payload) []interface{} {
			e := p.Expense
			lead, trail := metaArgs(&e.SyncMeta)
			return append(append(lead, e.Amount, e.Category, e.Note, e.SpentAt), trail...)
		},
		scan: func(row rowScanner) (*models.Payload, error) {
			var e models.Expense
			var ms metaScan
			if err := row.Scan(&e.ID, &ms.userID, &e.Amount, &e.Category, &e.Note, &e.SpentAt,
				&e.CreatedAt, &e.UpdatedAt, &ms.deletedAt, &ms.syncedAt); err != nil {
				return nil, err
			}
			ms.apply(&e.SyncMeta)
			return models.NewExpensePayload(&e), nil
		},
	},
	"budgets": {
		columns: []string{"id", "user_id", "category", "amount", "period", "start_date", "end_date", "created_at", "updated_at", "deleted_at", "synced_at"},
		args: func(p *models.Payload) []interface{} {
			b := p.Budget
			lead, trail := metaArgs(&b.SyncMeta)
			return append(append(lead, b.Category, b.Amount, string(b.Period), b.StartDate, b.EndDate), trail...)
		},
		scan: func(row rowScanner) (*models.Payload, error) {
			var b models.Budget
			var ms metaScan
			var period string
			if err := row.Scan(&b.ID, &ms.userID, &b.Category, &b.Amount, &period, &b.StartDate, &b.EndDate,
				&b.CreatedAt, &b.UpdatedAt, &ms.deletedAt, &ms.syncedAt); err != nil {
				return nil, err
			}
			b.Period = models.BudgetPeriod(period)
			ms.apply(&b.SyncMeta)
			return models.NewBudgetPayload(&b), nil
		},
	},
	"savings_goals": {
		columns: []string{"id", "user_id", "name", "target_amount", "current_amount", "target_date", "why", "created_at", "updated_at", "deleted_at", "synced_at"},
		args: func(p *models.Payload) []interface{} {
			g := p.Goal
			lead, trail := metaArgs(&g.SyncMeta)
			return append(append(lead, g.Name, g.TargetAmount, g.CurrentAmount, g.TargetDate, g.Why), trail...)
		},
		scan: func(row rowScanner) (*models.Payload, error) {
			var g models.SavingsGoal
			var ms metaScan
			if err := row.Scan(&g.ID, &ms.userID, &g.Name, &g.TargetAmount, &g.CurrentAmount, &g.TargetDate, &g.Why,
				&g.CreatedAt, &g.UpdatedAt, &ms.deletedAt, &ms.syncedAt); err != nil {
				return nil, err
			}
			ms.apply(&g.SyncMeta)
			return models.NewGoalPayload(&g), nil
		},
	},
	"savings_contributions": {
		columns: []string{"id", "user_id", "goal_id", "amount", "contributed_at", "note", "created_at", "updated_at", "deleted_at", "synced_at"},
		args: func(p *models.Payload) []interface{} {
			c := p.Contribution
			lead, trail := metaArgs(&c.SyncMeta)
			return append(append(lead, c.GoalID, c.Amount, c.ContributedAt, c.Note), trail...)
		},
		scan: func(row rowScanner) (*models.Payload, error) {
			var c models.SavingsContribution
			var ms metaScan
			if err := row.Scan(&c.ID, &ms.userID, &c.GoalID, &c.Amount, &c.ContributedAt, &c.Note,
				&c.CreatedAt, &c.UpdatedAt, &ms.deletedAt, &ms.syncedAt); err != nil {
				return nil, err
			}
			ms.apply(&c.SyncMeta)
			return models.NewContributionPayload(&c), nil
		},
	},
	"habit_goals": {
		columns: []string{"id", "user_id", "name", "cadence", "period", "active", "created_at", "updated_at", "deleted_at", "synced_at"},
		args: func(p *models.Payload) []interface{} {
			h := p.Habit
			lead, trail := metaArgs(&h.SyncMeta)
			return append(append(lead, h.Name, h.Cadence, string(h.Period), h.Active), trail...)
		},
		scan: func(row rowScanner) (*models.Payload, error) {
			var h models.HabitGoal
			var ms metaScan
			var period string
			if err := row.Scan(&h.ID, &ms.userID, &h.Name, &h.Cadence, &period, &h.Active,
				&h.CreatedAt, &h.UpdatedAt, &ms.deletedAt, &ms.syncedAt); err != nil {
				return nil, err
			}
			h.Period = models.HabitPeriod(period)
			ms.apply(&h.SyncMeta)
			return models.NewHabitPayload(&h), nil
		},
	},
	"habit_tracking": {
		columns: []string{"id", "user_id", "habit_id", "tracked_on", "done", "created_at", "updated_at", "deleted_at", "synced_at"},
		args: func(p *models.Payload) []interface{} {
			e := p.HabitEntry
			lead, trail := metaArgs(&e.SyncMeta)
			return append(append(lead, e.HabitID, e.TrackedOn, e.Done), trail...)
		},
		scan: func(row rowScanner) (*models.Payload, error) {
			var e models.HabitEntry
			var ms metaScan
			if err := row.Scan(&e.ID, &ms.userID, &e.HabitID, &e.TrackedOn, &e.Done,
				&e.CreatedAt, &e.UpdatedAt, &ms.deletedAt, &ms.syncedAt); err != nil {
				return nil, err
			}
			ms.apply(&e.SyncMeta)
			return models.NewHabitEntryPayload(&e), nil
		},
	},
}

func spec(table string) (*tableSpec, error) {
	s, ok := tableSpecs[table]
	if !ok {
		return nil, fmt.Errorf("unknown sync table %q", table)
	}
	return s, nil
}

// upsertSQL builds the INSERT ... ON CONFLICT(id) DO UPDATE statement for
// a table. Every column except id is overwritten; the caller decides
// last-writer-wins before calling.
func upsertSQL(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	var sets []string
	for _, col := range columns {
		if col == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, strings.Join(columns, ", "), placeholders, strings.Join(sets, ", "))
}

func selectSQL(table string, columns []string) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
}

// UpsertRecordTx writes the payload's record inside the caller's
// transaction, creating or fully replacing the row.
func (r *Repository) UpsertRecordTx(tx *sql.Tx, p *models.Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s, err := spec(p.Table)
	if err != nil {
		return err
	}
	_, err = tx.Exec(upsertSQL(p.Table, s.columns), s.args(p)...)
	return err
}

// UpsertRecord writes the payload's record outside a transaction.
func (r *Repository) UpsertRecord(p *models.Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s, err := spec(p.Table)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(upsertSQL(p.Table, s.columns), s.args(p)...)
	return err
}

// GetRecord retrieves a live record by id. Tombstoned rows are treated
// as absent; sql.ErrNoRows is returned for both.
func (r *Repository) GetRecord(table string, id models.UUID) (*models.Payload, error) {
	s, err := spec(table)
	if err != nil {
		return nil, err
	}
	query := selectSQL(table, s.columns) + " WHERE id = ? AND deleted_at IS NULL"
	stmt, err := r.prepare(query)
	if err != nil {
		return nil, err
	}
	return s.scan(stmt.QueryRow(id))
}

// LookupRecord retrieves a record by id including tombstones. The sync
// path needs the tombstone to resolve conflicts against remote state.
func (r *Repository) LookupRecord(table string, id models.UUID) (*models.Payload, error) {
	s, err := spec(table)
	if err != nil {
		return nil, err
	}
	query := selectSQL(table, s.columns) + " WHERE id = ?"
	stmt, err := r.prepare(query)
	if err != nil {
		return nil, err
	}
	return s.scan(stmt.QueryRow(id))
}

// LookupRecordTx is LookupRecord inside the caller's transaction.
func (r *Repository) LookupRecordTx(tx *sql.Tx, table string, id models.UUID) (*models.Payload, error) {
	s, err := spec(table)
	if err != nil {
		return nil, err
	}
	query := selectSQL(table, s.columns) + " WHERE id = ?"
	return s.scan(tx.QueryRow(query, id))
}

// ListRecords returns all live records of a table, newest first.
func (r *Repository) ListRecords(table string) ([]*models.Payload, error) {
	s, err := spec(table)
	if err != nil {
		return nil, err
	}
	query := selectSQL(table, s.columns) + " WHERE deleted_at IS NULL ORDER BY created_at DESC, id"
	stmt, err := r.prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Payload
	for rows.Next() {
		p, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HardDeleteRecordTx physically removes a row. Only called after the
// remote authority confirmed the purge; dependent rows cascade.
func (r *Repository) HardDeleteRecordTx(tx *sql.Tx, table string, id models.UUID) error {
	if _, err := spec(table); err != nil {
		return err
	}
	_, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	return err
}

// SetSyncedTx stamps the sync marker on a row inside the caller's
// transaction.
func (r *Repository) SetSyncedTx(tx *sql.Tx, table string, id models.UUID, syncedAt int64) error {
	if _, err := spec(table); err != nil {
		return err
	}
	_, err := tx.Exec(fmt.Sprintf("UPDATE %s SET synced_at = ? WHERE id = ?", table), syncedAt, id)
	return err
}
