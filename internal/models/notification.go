// Package models provides data model definitions for Finch Core.
package models

import "time"

// NotificationType enumerates the user-configurable notification
// categories.
type NotificationType string

const (
	NotifyMonthlyCheckin NotificationType = "monthly_checkin"
	NotifyProgressUpdate NotificationType = "progress_update"
	NotifyWhyReminder    NotificationType = "why_reminder"
)

// NotificationRule is one user-configured recurrence: a notification
// category, an enabled flag and a five-field cron expression
// (minute hour day-of-month month day-of-week).
type NotificationRule struct {
	Type     NotificationType `db:"type" json:"type"`
	Enabled  bool             `db:"enabled" json:"enabled"`
	CronExpr string           `db:"cron_expr" json:"cron_expr"`
}

// QuietHours is a wall-clock window during which notifications must not
// fire. Start/End are "HH:MM"; the window may wrap past midnight
// (e.g. 22:00-08:00 spans two calendar days).
type QuietHours struct {
	Enabled bool   `db:"enabled" json:"enabled"`
	Start   string `db:"start" json:"start"`
	End     string `db:"end" json:"end"`
}

// Preferences is the notification_preferences singleton row: one rule per
// category plus the quiet-hours configuration.
type Preferences struct {
	MonthlyCheckin NotificationRule `json:"monthly_checkin"`
	ProgressUpdate NotificationRule `json:"progress_update"`
	WhyReminder    NotificationRule `json:"why_reminder"`
	Quiet          QuietHours       `json:"quiet_hours"`
	UpdatedAt      int64            `json:"updated_at"`
}

// TableName returns the table name for Preferences.
func (Preferences) TableName() string {
	return "notification_preferences"
}

// Rules returns the per-category rules in a fixed order.
func (p *Preferences) Rules() []NotificationRule {
	return []NotificationRule{p.MonthlyCheckin, p.ProgressUpdate, p.WhyReminder}
}

// DefaultPreferences returns the out-of-the-box configuration: a monthly
// check-in on the 1st at 09:00, a weekly progress update on Mondays at
// 18:00, a why-reminder on the 15th at 09:00, quiet hours 22:00-08:00.
func DefaultPreferences() *Preferences {
	return &Preferences{
		MonthlyCheckin: NotificationRule{Type: NotifyMonthlyCheckin, Enabled: true, CronExpr: "0 9 1 * *"},
		ProgressUpdate: NotificationRule{Type: NotifyProgressUpdate, Enabled: true, CronExpr: "0 18 * * 1"},
		WhyReminder:    NotificationRule{Type: NotifyWhyReminder, Enabled: false, CronExpr: "0 9 15 * *"},
		Quiet:          QuietHours{Enabled: true, Start: "22:00", End: "08:00"},
	}
}

// ScheduledNotification is a concrete planned notification instance.
// For a given (Type, GoalID, ScheduledAt truncated to the minute) at most
// one row exists with a null SentAt, which prevents duplicate firing after
// a restart. Rows are kept forever as duplicate-suppression history.
type ScheduledNotification struct {
	ID          UUID             `db:"id" json:"id"`
	Type        NotificationType `db:"type" json:"type"`
	GoalID      *UUID            `db:"goal_id" json:"goal_id,omitempty"`
	Title       string           `db:"title" json:"title"`
	Body        string           `db:"body" json:"body"`
	ScheduledAt int64            `db:"scheduled_at" json:"scheduled_at"`
	CronExpr    string           `db:"cron_expr" json:"cron_expr"`
	SentAt      *int64           `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   int64            `db:"created_at" json:"created_at"`
}

// TableName returns the table name for ScheduledNotification.
func (ScheduledNotification) TableName() string {
	return "scheduled_notifications"
}

// Sent reports whether the notification has been delivered.
func (n *ScheduledNotification) Sent() bool {
	return n.SentAt != nil
}

// ScheduledAtTime returns ScheduledAt as time.Time.
func (n *ScheduledNotification) ScheduledAtTime() time.Time {
	return time.Unix(n.ScheduledAt, 0)
}
