// Package db provides the durable local record store for Finch Core.
package db

// Schema is created once per database; all statements are idempotent.
// Versioned migrations are the host application's concern.
//
// Every syncable table carries the same sync columns: client-generated
// TEXT id, nullable user_id, created_at/updated_at, a deleted_at
// tombstone and a synced_at marker. Money columns are TEXT holding
// exact decimal strings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		amount TEXT NOT NULL,
		category TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		spent_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		synced_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_expenses_updated_at ON expenses(updated_at);`,

	`CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		period TEXT NOT NULL CHECK(period IN ('weekly', 'monthly')),
		start_date INTEGER NOT NULL,
		end_date INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		synced_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_budgets_updated_at ON budgets(updated_at);`,

	`CREATE TABLE IF NOT EXISTS savings_goals (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		name TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		target_date INTEGER NOT NULL DEFAULT 0,
		why TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		synced_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_savings_goals_updated_at ON savings_goals(updated_at);`,

	`CREATE TABLE IF NOT EXISTS savings_contributions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		goal_id TEXT NOT NULL REFERENCES savings_goals(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		contributed_at INTEGER NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		synced_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_savings_contributions_updated_at ON savings_contributions(updated_at);`,
	`CREATE INDEX IF NOT EXISTS idx_savings_contributions_goal ON savings_contributions(goal_id);`,

	`CREATE TABLE IF NOT EXISTS habit_goals (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		name TEXT NOT NULL,
		cadence INTEGER NOT NULL DEFAULT 1,
		period TEXT NOT NULL CHECK(period IN ('daily', 'weekly')),
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		synced_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_habit_goals_updated_at ON habit_goals(updated_at);`,

	`CREATE TABLE IF NOT EXISTS habit_tracking (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		habit_id TEXT NOT NULL REFERENCES habit_goals(id) ON DELETE CASCADE,
		tracked_on INTEGER NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		synced_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_habit_tracking_updated_at ON habit_tracking(updated_at);`,
	`CREATE INDEX IF NOT EXISTS idx_habit_tracking_habit ON habit_tracking(habit_id);`,

	`CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		operation TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at INTEGER,
		error_message TEXT NOT NULL DEFAULT '',
		terminally_failed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);`,
	// At most one pending entry per record; terminal entries drop out of
	// the uniqueness scope so a later edit can re-queue the record.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_record
		ON sync_queue(table_name, record_id) WHERE terminally_failed = 0;`,

	`CREATE TABLE IF NOT EXISTS sync_state (
		table_name TEXT PRIMARY KEY,
		last_sync_at INTEGER NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS notification_preferences (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		monthly_checkin_enabled INTEGER NOT NULL DEFAULT 1,
		monthly_checkin_cron TEXT NOT NULL,
		progress_update_enabled INTEGER NOT NULL DEFAULT 1,
		progress_update_cron TEXT NOT NULL,
		why_reminder_enabled INTEGER NOT NULL DEFAULT 0,
		why_reminder_cron TEXT NOT NULL,
		quiet_enabled INTEGER NOT NULL DEFAULT 1,
		quiet_start TEXT NOT NULL DEFAULT '22:00',
		quiet_end TEXT NOT NULL DEFAULT '08:00',
		updated_at INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS scheduled_notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		goal_id TEXT,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		scheduled_at INTEGER NOT NULL,
		cron_expr TEXT NOT NULL,
		sent_at INTEGER,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_notifications_type_at
		ON scheduled_notifications(type, scheduled_at);`,
}

// InitSchema creates all tables and indexes if they do not exist.
func (db *DB) InitSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
