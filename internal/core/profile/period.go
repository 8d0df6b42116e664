package profile

import (
	"fmt"
	"time"
)

// ParseDuration parses Go duration syntax plus an "Xd" suffix for days.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration must not be empty")
	}

	// time.ParseDuration has no day unit.
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("duration must be positive, got %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// PeriodStart returns the start of the period containing t.
// Periods are closed-open: [start, start+period), aligned to the Unix epoch.
// Example: PeriodStart(10:35:42, 1*time.Minute) → 10:35:00
func PeriodStart(t time.Time, period time.Duration) time.Time {
	return StartOf(PeriodID(t, period), period)
}

// PeriodID numbers periods from the Unix epoch. Adjacent periods differ by one.
func PeriodID(t time.Time, period time.Duration) int64 {
	n, p := t.UnixNano(), int64(period)
	id := n / p
	if n%p < 0 {
		id--
	}
	return id
}

// StartOf is the inverse of PeriodID.
func StartOf(id int64, period time.Duration) time.Time {
	return time.Unix(0, id*int64(period)).UTC()
}
