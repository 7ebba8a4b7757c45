package bot

import (
	"fmt"
	"time"
)

// WeekStartLayout is the day.month.year form first-week-start is given in.
const WeekStartLayout = "02.01.2006"

// ParseWeekStart parses a first-week-start date. The empty string yields the
// zero time: no anchor, so the current week is always week 1.
func ParseWeekStart(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(WeekStartLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid first week start %q: %w", s, err)
	}

	return t, nil
}

// WeekNumber returns 1 or 2: the parity of whole weeks between start and now,
// counted in calendar days.
func WeekNumber(start, now time.Time) int64 {
	days := int(midnight(now).Sub(midnight(start)).Hours() / 24)
	if (days/7)%2 == 0 {
		return 1
	}
	return 2
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
