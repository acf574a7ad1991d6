// Package models provides data model definitions for Finch Core.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense represents a single spend entry.
type Expense struct {
	SyncMeta
	Amount   decimal.Decimal `db:"amount" json:"amount"`
	Category string          `db:"category" json:"category"`
	Note     string          `db:"note" json:"note"`
	SpentAt  int64           `db:"spent_at" json:"spent_at"`
}

// TableName returns the table name for Expense.
func (Expense) TableName() string {
	return "expenses"
}

// SpentAtTime returns SpentAt as time.Time.
func (e *Expense) SpentAtTime() time.Time {
	return time.Unix(e.SpentAt, 0)
}

// BudgetPeriod is the recurrence window a budget applies to.
type BudgetPeriod string

const (
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
)

// Budget represents a spending cap for a category over a period.
type Budget struct {
	SyncMeta
	Category  string          `db:"category" json:"category"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Period    BudgetPeriod    `db:"period" json:"period"`
	StartDate int64           `db:"start_date" json:"start_date"`
	EndDate   int64           `db:"end_date" json:"end_date"`
}

// TableName returns the table name for Budget.
func (Budget) TableName() string {
	return "budgets"
}
