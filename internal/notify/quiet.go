package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/finch-app/finch-core/internal/models"
)

// QuietWindow is a parsed daily quiet-hours window in minutes past
// midnight. A window whose start is after its end wraps across
// midnight (22:00-08:00 covers late evening and early morning).
type QuietWindow struct {
	start int
	end   int
}

// ParseQuietWindow validates and parses the stored quiet-hours setting.
// It returns nil when quiet hours are disabled.
func ParseQuietWindow(q models.QuietHours) (*QuietWindow, error) {
	if !q.Enabled {
		return nil, nil
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return nil, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := parseClock(q.End)
	if err != nil {
		return nil, fmt.Errorf("quiet hours end: %w", err)
	}
	if start == end {
		return nil, fmt.Errorf("quiet hours: start %s equals end", q.Start)
	}
	return &QuietWindow{start: start, end: end}, nil
}

// parseClock parses "HH:MM" into minutes past midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether t falls inside the window. The start bound
// is inclusive and the end bound exclusive, so a time exactly at the
// window end is already outside it.
func (w *QuietWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

// End returns the window's end boundary for the occurrence of the
// window that contains t. Callers must only pass times for which
// Contains is true.
func (w *QuietWindow) End(t time.Time) time.Time {
	day := t.Day()
	if w.start >= w.end && t.Hour()*60+t.Minute() >= w.start {
		// Wrapped window entered before midnight ends the next day.
		day++
	}
	return time.Date(t.Year(), t.Month(), day, w.end/60, w.end%60, 0, 0, t.Location())
}
