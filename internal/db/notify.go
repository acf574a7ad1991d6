// Package db provides the durable local record store for Finch Core.
package db

import (
	"database/sql"
	"time"

	"github.com/finch-app/finch-core/internal/models"
	"github.com/finch-app/finch-core/internal/uuid"
)

// GetPreferences loads the notification_preferences singleton, seeding
// the defaults on first access.
func (r *Repository) GetPreferences() (*models.Preferences, error) {
	var p models.Preferences
	err := r.db.QueryRow(
		`SELECT monthly_checkin_enabled, monthly_checkin_cron,
		        progress_update_enabled, progress_update_cron,
		        why_reminder_enabled, why_reminder_cron,
		        quiet_enabled, quiet_start, quiet_end, updated_at
		 FROM notification_preferences WHERE id = 1`).Scan(
		&p.MonthlyCheckin.Enabled, &p.MonthlyCheckin.CronExpr,
		&p.ProgressUpdate.Enabled, &p.ProgressUpdate.CronExpr,
		&p.WhyReminder.Enabled, &p.WhyReminder.CronExpr,
		&p.Quiet.Enabled, &p.Quiet.Start, &p.Quiet.End, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		defaults := models.DefaultPreferences()
		if err := r.SavePreferences(defaults); err != nil {
			return nil, err
		}
		return defaults, nil
	}
	if err != nil {
		return nil, err
	}
	p.MonthlyCheckin.Type = models.NotifyMonthlyCheckin
	p.ProgressUpdate.Type = models.NotifyProgressUpdate
	p.WhyReminder.Type = models.NotifyWhyReminder
	return &p, nil
}

// SavePreferences writes the notification_preferences singleton row.
func (r *Repository) SavePreferences(p *models.Preferences) error {
	p.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(
		`INSERT INTO notification_preferences (id,
			monthly_checkin_enabled, monthly_checkin_cron,
			progress_update_enabled, progress_update_cron,
			why_reminder_enabled, why_reminder_cron,
			quiet_enabled, quiet_start, quiet_end, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			monthly_checkin_enabled = excluded.monthly_checkin_enabled,
			monthly_checkin_cron = excluded.monthly_checkin_cron,
			progress_update_enabled = excluded.progress_update_enabled,
			progress_update_cron = excluded.progress_update_cron,
			why_reminder_enabled = excluded.why_reminder_enabled,
			why_reminder_cron = excluded.why_reminder_cron,
			quiet_enabled = excluded.quiet_enabled,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			updated_at = excluded.updated_at`,
		p.MonthlyCheckin.Enabled, p.MonthlyCheckin.CronExpr,
		p.ProgressUpdate.Enabled, p.ProgressUpdate.CronExpr,
		p.WhyReminder.Enabled, p.WhyReminder.CronExpr,
		p.Quiet.Enabled, p.Quiet.Start, p.Quiet.End, p.UpdatedAt)
	return err
}

const notificationColumns = `id, type, goal_id, title, body, scheduled_at, cron_expr, sent_at, created_at`

func scanNotification(row rowScanner) (*models.ScheduledNotification, error) {
	var n models.ScheduledNotification
	var goalID sql.NullString
	var sentAt sql.NullInt64
	if err := row.Scan(&n.ID, &n.Type, &goalID, &n.Title, &n.Body,
		&n.ScheduledAt, &n.CronExpr, &sentAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	if goalID.Valid {
		v := models.UUID(goalID.String)
		n.GoalID = &v
	}
	if sentAt.Valid {
		v := sentAt.Int64
		n.SentAt = &v
	}
	return &n, nil
}

// InsertNotification persists a planned notification instance.
func (r *Repository) InsertNotification(n *models.ScheduledNotification) error {
	if n.ID == "" {
		n.ID = models.UUID(uuid.New())
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().Unix()
	}
	var goalID interface{}
	if n.GoalID != nil {
		goalID = string(*n.GoalID)
	}
	_, err := r.db.Exec(
		`INSERT INTO scheduled_notifications
			(id, type, goal_id, title, body, scheduled_at, cron_expr, sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		n.ID, string(n.Type), goalID, n.Title, n.Body, n.ScheduledAt, n.CronExpr, n.CreatedAt)
	return err
}

// UnsentNotificationExists reports whether an undelivered instance
// already exists for (type, goal reference, scheduled minute). This is
// the duplicate-suppression lookup that makes scheduling idempotent
// across restarts.
func (r *Repository) UnsentNotificationExists(typ models.NotificationType, goalID *models.UUID, scheduledAt int64) (bool, error) {
	bucket := scheduledAt - scheduledAt%60
	var n int
	var err error
	if goalID == nil {
		err = r.db.QueryRow(
			`SELECT COUNT(*) FROM scheduled_notifications
			 WHERE type = ? AND goal_id IS NULL AND sent_at IS NULL
			   AND scheduled_at - (scheduled_at % 60) = ?`,
			string(typ), bucket).Scan(&n)
	} else {
		err = r.db.QueryRow(
			`SELECT COUNT(*) FROM scheduled_notifications
			 WHERE type = ? AND goal_id = ? AND sent_at IS NULL
			   AND scheduled_at - (scheduled_at % 60) = ?`,
			string(typ), string(*goalID), bucket).Scan(&n)
	}
	return n > 0, err
}

// DueNotifications returns all unsent instances with scheduled_at <= now,
// in ascending scheduled_at order. The delivery collaborator fires them
// and reports back via MarkNotificationSent.
func (r *Repository) DueNotifications(now time.Time) ([]*models.ScheduledNotification, error) {
	stmt, err := r.prepare(
		`SELECT ` + notificationColumns + ` FROM scheduled_notifications
		 WHERE sent_at IS NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationSent records delivery. Rows are retained as history
// for duplicate suppression, never hard-deleted.
func (r *Repository) MarkNotificationSent(id models.UUID, sentAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE scheduled_notifications SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		sentAt.Unix(), id)
	return err
}

// UnsentNotifications returns every undelivered instance, soonest first.
func (r *Repository) UnsentNotifications() ([]*models.ScheduledNotification, error) {
	stmt, err := r.prepare(
		`SELECT ` + notificationColumns + ` FROM scheduled_notifications
		 WHERE sent_at IS NULL ORDER BY scheduled_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
