// Package models provides data model definitions for Finch Core.
package models

import (
	"encoding/json"
	"fmt"
)

// SyncTables lists every syncable table in dependency order: parents
// before children, so pulled rows never violate foreign keys.
var SyncTables = []string{
	"expenses",
	"budgets",
	"savings_goals",
	"savings_contributions",
	"habit_goals",
	"habit_tracking",
}

// Payload is the tagged union carried by a queue entry and exchanged with
// the remote authority. Exactly one record pointer is set, selected by
// Table. It is serialized only at the store and wire boundaries.
type Payload struct {
	Table        string
	Expense      *Expense
	Budget       *Budget
	Goal         *SavingsGoal
	Contribution *SavingsContribution
	Habit        *HabitGoal
	HabitEntry   *HabitEntry
}

// NewExpensePayload wraps an expense in a payload.
func NewExpensePayload(e *Expense) *Payload {
	return &Payload{Table: e.TableName(), Expense: e}
}

// NewBudgetPayload wraps a budget in a payload.
func NewBudgetPayload(b *Budget) *Payload {
	return &Payload{Table: b.TableName(), Budget: b}
}

// NewGoalPayload wraps a savings goal in a payload.
func NewGoalPayload(g *SavingsGoal) *Payload {
	return &Payload{Table: g.TableName(), Goal: g}
}

// NewContributionPayload wraps a savings contribution in a payload.
func NewContributionPayload(c *SavingsContribution) *Payload {
	return &Payload{Table: c.TableName(), Contribution: c}
}

// NewHabitPayload wraps a habit goal in a payload.
func NewHabitPayload(h *HabitGoal) *Payload {
	return &Payload{Table: h.TableName(), Habit: h}
}

// NewHabitEntryPayload wraps a habit entry in a payload.
func NewHabitEntryPayload(e *HabitEntry) *Payload {
	return &Payload{Table: e.TableName(), HabitEntry: e}
}

// Meta returns the sync columns of whichever record the payload carries,
// or nil when the tagged record is absent.
func (p *Payload) Meta() *SyncMeta {
	switch p.Table {
	case "expenses":
		if p.Expense != nil {
			return &p.Expense.SyncMeta
		}
	case "budgets":
		if p.Budget != nil {
			return &p.Budget.SyncMeta
		}
	case "savings_goals":
		if p.Goal != nil {
			return &p.Goal.SyncMeta
		}
	case "savings_contributions":
		if p.Contribution != nil {
			return &p.Contribution.SyncMeta
		}
	case "habit_goals":
		if p.Habit != nil {
			return &p.Habit.SyncMeta
		}
	case "habit_tracking":
		if p.HabitEntry != nil {
			return &p.HabitEntry.SyncMeta
		}
	}
	return nil
}

// Validate checks the union is well-formed: a known table tag with its
// matching record set.
func (p *Payload) Validate() error {
	if p.Meta() == nil {
		return fmt.Errorf("payload for table %q carries no record", p.Table)
	}
	if p.Meta().ID == "" {
		return fmt.Errorf("payload for table %q has no record id", p.Table)
	}
	return nil
}

// payloadEnvelope is the wire/store form of a Payload.
type payloadEnvelope struct {
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// MarshalJSON implements json.Marshaler.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var rec any
	switch p.Table {
	case "expenses":
		rec = p.Expense
	case "budgets":
		rec = p.Budget
	case "savings_goals":
		rec = p.Goal
	case "savings_contributions":
		rec = p.Contribution
	case "habit_goals":
		rec = p.Habit
	case "habit_tracking":
		rec = p.HabitEntry
	default:
		return nil, fmt.Errorf("unknown sync table %q", p.Table)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{Table: p.Table, Record: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*p = Payload{Table: env.Table}
	var target any
	switch env.Table {
	case "expenses":
		p.Expense = &Expense{}
		target = p.Expense
	case "budgets":
		p.Budget = &Budget{}
		target = p.Budget
	case "savings_goals":
		p.Goal = &SavingsGoal{}
		target = p.Goal
	case "savings_contributions":
		p.Contribution = &SavingsContribution{}
		target = p.Contribution
	case "habit_goals":
		p.Habit = &HabitGoal{}
		target = p.Habit
	case "habit_tracking":
		p.HabitEntry = &HabitEntry{}
		target = p.HabitEntry
	default:
		return fmt.Errorf("unknown sync table %q", env.Table)
	}
	return json.Unmarshal(env.Record, target)
}
