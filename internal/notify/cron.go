// Package notify computes notification schedules from cron-style rules,
// honors quiet hours, and suppresses duplicate or missed firings across
// process restarts.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week.
// Fields accept "*", single values, ranges (a-b), steps (*/n, a-b/n)
// and comma lists. Day-of-month and day-of-week combine with OR when
// both are restricted (standard cron semantics).
type CronExpr struct {
	raw    string
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// A field is "restricted" unless written as a bare "*"; restriction
	// drives the dom/dow OR rule.
	domStar bool
	dowStar bool
}

// fieldSpec bounds one cron field.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var cronFields = []fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7}, // 7 is folded onto 0 (Sunday)
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("cron expression %q: want %d fields, got %d", expr, len(cronFields), len(fields))
	}

	masks := make([]uint64, len(cronFields))
	for i, f := range fields {
		mask, err := parseCronField(f, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %w", expr, err)
		}
		masks[i] = mask
	}

	c := &CronExpr{
		raw:     expr,
		minute:  masks[0],
		hour:    masks[1],
		dom:     masks[2],
		month:   masks[3],
		dow:     masks[4],
		domStar: fields[2] == "*",
		dowStar: fields[4] == "*",
	}
	// Fold Sunday-as-7 onto Sunday-as-0.
	if c.dow&(1<<7) != 0 {
		c.dow |= 1
		c.dow &^= 1 << 7
	}
	return c, nil
}

// String returns the original expression text.
func (c *CronExpr) String() string {
	return c.raw
}

func parseCronField(field string, spec fieldSpec) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("%s: empty list element", spec.name)
		}

		step := 1
		rangeExpr := part
		if i := strings.IndexByte(part, '/'); i >= 0 {
			rangeExpr = part[:i]
			var err error
			step, err = strconv.Atoi(part[i+1:])
			if err != nil || step <= 0 {
				return 0, fmt.Errorf("%s: bad step %q", spec.name, part[i+1:])
			}
		}

		lo, hi := spec.min, spec.max
		switch {
		case rangeExpr == "*":
			// full range
		case strings.Contains(rangeExpr, "-"):
			bounds := strings.SplitN(rangeExpr, "-", 2)
			var err1, err2 error
			lo, err1 = strconv.Atoi(bounds[0])
			hi, err2 = strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return 0, fmt.Errorf("%s: bad range %q", spec.name, rangeExpr)
			}
		default:
			v, err := strconv.Atoi(rangeExpr)
			if err != nil {
				return 0, fmt.Errorf("%s: bad value %q", spec.name, rangeExpr)
			}
			lo = v
			if step == 1 {
				hi = v
			}
			// "v/step" means v through max, per standard cron.
		}

		if lo < spec.min || hi > spec.max || lo > hi {
			return 0, fmt.Errorf("%s: %q out of range %d-%d", spec.name, part, spec.min, spec.max)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("%s: empty field", spec.name)
	}
	return mask, nil
}

// nextSearchHorizon bounds the forward search. Four years covers every
// satisfiable dom/month combination including Feb 29.
const nextSearchHorizon = 4

// Next returns the earliest time strictly after t that satisfies the
// expression, at minute granularity, in t's location. The zero time is
// returned when no match exists within the search horizon.
func (c *CronExpr) Next(t time.Time) time.Time {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(nextSearchHorizon, 0, 0)

	for cur.Before(limit) {
		if c.month&(1<<uint(cur.Month())) == 0 {
			// Jump to the first minute of the next month.
			cur = time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, cur.Location()).AddDate(0, 1, 0)
			continue
		}
		if !c.dayMatches(cur) {
			cur = time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, cur.Location()).AddDate(0, 0, 1)
			continue
		}
		if c.hour&(1<<uint(cur.Hour())) == 0 {
			cur = time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour(), 0, 0, 0, cur.Location()).Add(time.Hour)
			continue
		}
		if c.minute&(1<<uint(cur.Minute())) == 0 {
			cur = cur.Add(time.Minute)
			continue
		}
		return cur
	}
	return time.Time{}
}

// Matches reports whether t (truncated to its minute) satisfies every
// field of the expression.
func (c *CronExpr) Matches(t time.Time) bool {
	return c.minute&(1<<uint(t.Minute())) != 0 &&
		c.hour&(1<<uint(t.Hour())) != 0 &&
		c.month&(1<<uint(t.Month())) != 0 &&
		c.dayMatches(t)
}

// MatchesDay reports whether t falls on a day the expression allows,
// ignoring the minute and hour fields. Quiet-hour deferral moves the
// wall-clock time on purpose, so revalidation only checks the day.
func (c *CronExpr) MatchesDay(t time.Time) bool {
	return c.month&(1<<uint(t.Month())) != 0 && c.dayMatches(t)
}

// dayMatches implements the standard cron dom/dow rule: when both
// fields are restricted they combine with OR, otherwise the restricted
// one (if any) decides.
func (c *CronExpr) dayMatches(t time.Time) bool {
	domOK := c.dom&(1<<uint(t.Day())) != 0
	dowOK := c.dow&(1<<uint(t.Weekday())) != 0

	switch {
	case c.domStar && c.dowStar:
		return true
	case c.domStar:
		return dowOK
	case c.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}

// ComputeNextFire parses expr and returns the earliest matching time
// strictly after `after`, without quiet-hours consideration.
func ComputeNextFire(expr string, after time.Time) (time.Time, error) {
	c, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return c.Next(after), nil
}
