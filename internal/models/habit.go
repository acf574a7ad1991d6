// Package models provides data model definitions for Finch Core.
package models

import "time"

// HabitPeriod is the window a habit cadence is counted over.
type HabitPeriod string

const (
	HabitPeriodDaily  HabitPeriod = "daily"
	HabitPeriodWeekly HabitPeriod = "weekly"
)

// HabitGoal represents a recurring behavior the user wants to track.
type HabitGoal struct {
	SyncMeta
	Name    string      `db:"name" json:"name"`
	Cadence int         `db:"cadence" json:"cadence"` // times per period
	Period  HabitPeriod `db:"period" json:"period"`
	Active  bool        `db:"active" json:"active"`
}

// TableName returns the table name for HabitGoal.
func (HabitGoal) TableName() string {
	return "habit_goals"
}

// HabitEntry represents one tracked occurrence of a habit.
// Owned by its habit: cascade-removed when the parent habit goal is
// hard-deleted after a remotely confirmed purge.
type HabitEntry struct {
	SyncMeta
	HabitID   UUID  `db:"habit_id" json:"habit_id"`
	TrackedOn int64 `db:"tracked_on" json:"tracked_on"`
	Done      bool  `db:"done" json:"done"`
}

// TableName returns the table name for HabitEntry.
func (HabitEntry) TableName() string {
	return "habit_tracking"
}

// TrackedOnTime returns TrackedOn as time.Time.
func (e *HabitEntry) TrackedOnTime() time.Time {
	return time.Unix(e.TrackedOn, 0)
}
