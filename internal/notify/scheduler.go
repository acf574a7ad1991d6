package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/finch-app/finch-core/internal/db"
	"github.com/finch-app/finch-core/internal/errors"
	"github.com/finch-app/finch-core/internal/logging"
	"github.com/finch-app/finch-core/internal/models"
)

// maxQuietAdjustments bounds the quiet-hours deferral loop. A rule whose
// occurrences cannot escape the quiet window within this many
// adjustments is rejected as unschedulable rather than spun on forever.
const maxQuietAdjustments = 8

// Deliverer hands a due notification to the platform notification
// surface. A non-nil error leaves the instance undelivered so a later
// pass retries it.
type Deliverer interface {
	Deliver(ctx context.Context, n *models.ScheduledNotification) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, n *models.ScheduledNotification) error

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, n *models.ScheduledNotification) error {
	return f(ctx, n)
}

// Scheduler plans concrete notification instances from the stored
// preferences and dispatches the ones that come due. All methods are
// safe for concurrent use because every decision reads and writes
// through the store.
type Scheduler struct {
	repo *db.Repository
}

// NewScheduler creates a notification scheduler backed by repo.
func NewScheduler(repo *db.Repository) *Scheduler {
	return &Scheduler{repo: repo}
}

// nextFire computes the first occurrence of expr strictly after the
// given time, adjusted out of the quiet window. An occurrence inside
// quiet hours is deferred to the window's end when that still falls on
// a day the rule allows; otherwise the search moves on to the rule's
// next occurrence. The zero result is never returned without an error.
func nextFire(expr *CronExpr, quiet *QuietWindow, after time.Time) (time.Time, error) {
	t := expr.Next(after)
	for i := 0; i < maxQuietAdjustments; i++ {
		if t.IsZero() {
			return time.Time{}, errors.New(errors.ErrUnschedulable,
				fmt.Sprintf("rule %q has no future occurrence", expr.String()))
		}
		if quiet == nil || !quiet.Contains(t) {
			return t, nil
		}
		end := quiet.End(t)
		if expr.MatchesDay(end) && !quiet.Contains(end) {
			// Fire as soon as quiet hours lift. The clock fields no
			// longer match the expression, which is the point of the
			// deferral.
			return end, nil
		}
		t = expr.Next(end)
	}
	return time.Time{}, errors.New(errors.ErrUnschedulable,
		fmt.Sprintf("rule %q cannot escape quiet hours", expr.String()))
}

// ValidateRule checks that a rule parses and can produce at least one
// future, quiet-hours-compatible occurrence. Called before preferences
// are persisted so a broken rule is rejected at save time instead of
// failing silently later.
func ValidateRule(rule models.NotificationRule, quiet models.QuietHours, now time.Time) error {
	expr, err := ParseCron(rule.CronExpr)
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "invalid cron expression", err)
	}
	qw, err := ParseQuietWindow(quiet)
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "invalid quiet hours", err)
	}
	_, err = nextFire(expr, qw, now)
	return err
}

// SavePreferences validates every enabled rule against the new quiet
// hours and persists the preferences atomically from the caller's view.
func (s *Scheduler) SavePreferences(p *models.Preferences, now time.Time) error {
	for _, rule := range p.Rules() {
		if !rule.Enabled {
			continue
		}
		if err := ValidateRule(rule, p.Quiet, now); err != nil {
			return fmt.Errorf("rule %s: %w", rule.Type, err)
		}
	}
	return s.repo.SavePreferences(p)
}

// Schedule plans the next instance of one rule. Planning is idempotent:
// when an undelivered instance already exists for the same rule, goal
// reference and fire minute, no new row is written and nil is returned.
// A disabled rule schedules nothing.
func (s *Scheduler) Schedule(rule models.NotificationRule, quiet models.QuietHours,
	goalID *models.UUID, title, body string, now time.Time) (*models.ScheduledNotification, error) {

	if !rule.Enabled {
		return nil, nil
	}
	expr, err := ParseCron(rule.CronExpr)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid cron expression", err)
	}
	qw, err := ParseQuietWindow(quiet)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid quiet hours", err)
	}
	fireAt, err := nextFire(expr, qw, now)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.UnsentNotificationExists(rule.Type, goalID, fireAt.Unix())
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "duplicate check failed", err)
	}
	if exists {
		return nil, nil
	}

	n := &models.ScheduledNotification{
		Type:        rule.Type,
		GoalID:      goalID,
		Title:       title,
		Body:        body,
		ScheduledAt: fireAt.Unix(),
		CronExpr:    rule.CronExpr,
		CreatedAt:   now.Unix(),
	}
	if err := s.repo.InsertNotification(n); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to store notification", err)
	}
	logging.Debug("scheduled notification", map[string]interface{}{
		"type":         string(rule.Type),
		"scheduled_at": n.ScheduledAt,
	})
	return n, nil
}

// ScheduleAll plans the next instance for every enabled rule: one
// monthly check-in, and per-goal progress updates and why-reminders for
// current savings goals. A rule that fails to schedule is logged and
// skipped so one broken rule never blocks the others.
func (s *Scheduler) ScheduleAll(now time.Time) ([]*models.ScheduledNotification, error) {
	prefs, err := s.repo.GetPreferences()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load preferences", err)
	}

	var planned []*models.ScheduledNotification
	add := func(n *models.ScheduledNotification, err error, typ models.NotificationType) {
		if err != nil {
			logging.ErrorWithCode("failed to schedule rule",
				string(errors.CodeOf(err)), err, map[string]interface{}{
					"type": string(typ),
				})
			return
		}
		if n != nil {
			planned = append(planned, n)
		}
	}

	n, err := s.Schedule(prefs.MonthlyCheckin, prefs.Quiet, nil,
		"Monthly check-in", "Time to review your spending and goals for the month.", now)
	add(n, err, models.NotifyMonthlyCheckin)

	if prefs.ProgressUpdate.Enabled || prefs.WhyReminder.Enabled {
		goals, err := s.activeGoals()
		if err != nil {
			return planned, err
		}
		for _, g := range goals {
			if prefs.ProgressUpdate.Enabled {
				id := g.ID
				n, err := s.Schedule(prefs.ProgressUpdate, prefs.Quiet, &id,
					fmt.Sprintf("Progress on %s", g.Name),
					fmt.Sprintf("You are %.0f%% of the way to %s.", g.Progress()*100, g.Name), now)
				add(n, err, models.NotifyProgressUpdate)
			}
			if prefs.WhyReminder.Enabled && g.Why != "" {
				id := g.ID
				n, err := s.Schedule(prefs.WhyReminder, prefs.Quiet, &id,
					fmt.Sprintf("Remember why: %s", g.Name), g.Why, now)
				add(n, err, models.NotifyWhyReminder)
			}
		}
	}
	return planned, nil
}

// activeGoals loads the non-deleted savings goals.
func (s *Scheduler) activeGoals() ([]*models.SavingsGoal, error) {
	payloads, err := s.repo.ListRecords("savings_goals")
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list savings goals", err)
	}
	goals := make([]*models.SavingsGoal, 0, len(payloads))
	for _, p := range payloads {
		goals = append(goals, p.Goal)
	}
	return goals, nil
}

// Due returns all undelivered instances whose fire time has arrived,
// soonest first.
func (s *Scheduler) Due(now time.Time) ([]*models.ScheduledNotification, error) {
	return s.repo.DueNotifications(now)
}

// MarkDelivered records that an instance fired. The row is kept as
// duplicate-suppression history.
func (s *Scheduler) MarkDelivered(id models.UUID, at time.Time) error {
	return s.repo.MarkNotificationSent(id, at)
}

// Dispatch delivers every due instance through d and marks the
// successful ones sent. Delivery failures are logged and left
// undelivered for the next pass. Returns the number delivered.
func (s *Scheduler) Dispatch(ctx context.Context, d Deliverer, now time.Time) (int, error) {
	due, err := s.Due(now)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to load due notifications", err)
	}

	delivered := 0
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := d.Deliver(ctx, n); err != nil {
			logging.Warn("notification delivery failed", map[string]interface{}{
				"id":    string(n.ID),
				"type":  string(n.Type),
				"error": err.Error(),
			})
			continue
		}
		if err := s.MarkDelivered(n.ID, now); err != nil {
			return delivered, errors.Wrap(errors.ErrDatabase, "failed to mark notification sent", err)
		}
		delivered++
	}
	return delivered, nil
}
