// Package schedule computes the next execution date of recurring obligations.
package schedule

import (
	"fmt"
	"time"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/pkg/utils"
)

// Bounds limit how far a schedule may run. Zero values mean unbounded.
// AnchorDay is the preferred day of month for month-based steps; zero uses
// the current date's day.
type Bounds struct {
	AnchorDay      int
	EndDate        *time.Time
	MaxExecutions  int
	ExecutionCount int
}

// Result of advancing a schedule.
type Result struct {
	Next      time.Time
	HasNext   bool // false for ONE_TIME
	Exhausted bool // next date falls outside the bounds
}

// Next returns the date after current for freq. ONE_TIME has no next date.
// Monthly steps are anchored on current's day of month and clamped to month end.
func Next(current time.Time, freq domain.Frequency) (time.Time, bool, error) {
	return NextOnDay(current, freq, current.Day())
}

// NextOnDay is Next with month-based steps anchored on preferredDay instead of
// current's day, so that a schedule clamped to Feb 28 returns to the 31st in March.
func NextOnDay(current time.Time, freq domain.Frequency, preferredDay int) (time.Time, bool, error) {
	current = utils.DateOnly(current)
	if preferredDay < 1 || preferredDay > 31 {
		preferredDay = current.Day()
	}

	switch freq {
	case domain.FrequencyOneTime:
		return time.Time{}, false, nil
	case domain.FrequencyDaily:
		return current.AddDate(0, 0, 1), true, nil
	case domain.FrequencyWeekly:
		return current.AddDate(0, 0, 7), true, nil
	case domain.FrequencyBiweekly:
		return current.AddDate(0, 0, 14), true, nil
	case domain.FrequencyMonthly:
		return addMonthsClamped(current, 1, preferredDay), true, nil
	case domain.FrequencyQuarterly:
		return addMonthsClamped(current, 3, preferredDay), true, nil
	case domain.FrequencyYearly:
		return addMonthsClamped(current, 12, preferredDay), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown frequency %q", freq)
	}
}

// Advance computes the next date and whether it exceeds the bounds. The caller
// completes the obligation when HasNext is false or Exhausted is true.
func Advance(current time.Time, freq domain.Frequency, bounds Bounds) (Result, error) {
	next, ok, err := NextOnDay(current, freq, bounds.AnchorDay)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{HasNext: false, Exhausted: true}, nil
	}

	result := Result{Next: next, HasNext: true}
	if bounds.MaxExecutions > 0 && bounds.ExecutionCount >= bounds.MaxExecutions {
		result.Exhausted = true
	}
	if bounds.EndDate != nil && next.After(utils.DateOnly(*bounds.EndDate)) {
		result.Exhausted = true
	}
	return result, nil
}

func addMonthsClamped(t time.Time, months, day int) time.Time {
	y, m, _ := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), t.Location())
	if day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
