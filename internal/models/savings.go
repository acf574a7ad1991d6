// Package models provides data model definitions for Finch Core.
package models

import (
	"github.com/shopspring/decimal"
)

// SavingsGoal represents a target the user is saving towards.
// Why holds the user's motivation text and feeds the why-reminder
// notification category.
type SavingsGoal struct {
	SyncMeta
	Name          string          `db:"name" json:"name"`
	TargetAmount  decimal.Decimal `db:"target_amount" json:"target_amount"`
	CurrentAmount decimal.Decimal `db:"current_amount" json:"current_amount"`
	TargetDate    int64           `db:"target_date" json:"target_date"` // 0 = open-ended
	Why           string          `db:"why" json:"why"`
}

// TableName returns the table name for SavingsGoal.
func (SavingsGoal) TableName() string {
	return "savings_goals"
}

// Progress returns CurrentAmount/TargetAmount in [0,1], or 0 when the
// target is zero.
func (g *SavingsGoal) Progress() float64 {
	if g.TargetAmount.IsZero() {
		return 0
	}
	f, _ := g.CurrentAmount.Div(g.TargetAmount).Float64()
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// SavingsContribution represents a single deposit towards a goal.
// Owned by its goal: the row is cascade-removed when the parent goal is
// hard-deleted after a remotely confirmed purge.
type SavingsContribution struct {
	SyncMeta
	GoalID        UUID            `db:"goal_id" json:"goal_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	ContributedAt int64           `db:"contributed_at" json:"contributed_at"`
	Note          string          `db:"note" json:"note"`
}

// TableName returns the table name for SavingsContribution.
func (SavingsContribution) TableName() string {
	return "savings_contributions"
}
