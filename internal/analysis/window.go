package analysis

import (
	"time"

	"github.com/rendis/playbook/pkg/schema"
)

// Named history windows.
const (
	WindowHour  = "hour"
	WindowDay   = "day"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowAll   = "all"
)

// WindowStart returns the inclusive lower bound of window ending at now.
// WindowAll (and "") returns the zero time.
func WindowStart(window string, now time.Time) (time.Time, error) {
	switch window {
	case "", WindowAll:
		return time.Time{}, nil
	case WindowHour:
		return now.Add(-time.Hour), nil
	case WindowDay:
		return now.AddDate(0, 0, -1), nil
	case WindowWeek:
		return now.AddDate(0, 0, -7), nil
	case WindowMonth:
		return now.AddDate(0, -1, 0), nil
	}
	return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidInput,
		"unknown window %q (want hour, day, week, month or all)", window)
}
