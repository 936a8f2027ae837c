package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/funds-engine/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	tests := []struct {
		name     string
		current  time.Time
		freq     domain.Frequency
		expected time.Time
	}{
		{name: "daily", current: date(2024, 12, 31), freq: domain.FrequencyDaily, expected: date(2025, 1, 1)},
		{name: "weekly", current: date(2024, 1, 1), freq: domain.FrequencyWeekly, expected: date(2024, 1, 8)},
		{name: "biweekly", current: date(2024, 1, 1), freq: domain.FrequencyBiweekly, expected: date(2024, 1, 15)},
		{name: "monthly", current: date(2024, 1, 15), freq: domain.FrequencyMonthly, expected: date(2024, 2, 15)},
		{name: "monthly clamps 31st into leap february", current: date(2024, 1, 31), freq: domain.FrequencyMonthly, expected: date(2024, 2, 29)},
		{name: "monthly clamps 31st into february", current: date(2023, 1, 31), freq: domain.FrequencyMonthly, expected: date(2023, 2, 28)},
		{name: "monthly clamps 31st into 30-day month", current: date(2024, 3, 31), freq: domain.FrequencyMonthly, expected: date(2024, 4, 30)},
		{name: "monthly across year end", current: date(2024, 12, 10), freq: domain.FrequencyMonthly, expected: date(2025, 1, 10)},
		{name: "quarterly", current: date(2024, 11, 30), freq: domain.FrequencyQuarterly, expected: date(2025, 2, 28)},
		{name: "yearly from leap day", current: date(2024, 2, 29), freq: domain.FrequencyYearly, expected: date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok, err := Next(tt.current, tt.freq)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestNext_OneTimeHasNoNextDate(t *testing.T) {
	_, ok, err := Next(date(2024, 1, 1), domain.FrequencyOneTime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_UnknownFrequency(t *testing.T) {
	_, _, err := Next(date(2024, 1, 1), domain.Frequency("HOURLY"))
	assert.Error(t, err)
}

func TestNext_StrictlyAfterAndStable(t *testing.T) {
	freqs := []domain.Frequency{
		domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyBiweekly,
		domain.FrequencyMonthly, domain.FrequencyQuarterly, domain.FrequencyYearly,
	}
	start := date(2023, 1, 1)

	for _, freq := range freqs {
		for d := start; d.Before(date(2025, 1, 1)); d = d.AddDate(0, 0, 1) {
			first, ok, err := Next(d, freq)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, first.After(d), "%s from %s gave %s", freq, d, first)

			second, _, _ := Next(d, freq)
			assert.Equal(t, first, second)
		}
	}
}

func TestNextOnDay_ReturnsToPreferredDay(t *testing.T) {
	feb, _, err := NextOnDay(date(2024, 1, 31), domain.FrequencyMonthly, 31)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), feb)

	mar, _, err := NextOnDay(feb, domain.FrequencyMonthly, 31)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 31), mar)

	// without the preference the anchor drifts to the clamped day
	drift, _, _ := Next(feb, domain.FrequencyMonthly)
	assert.Equal(t, date(2024, 3, 29), drift)
}

func TestAdvance(t *testing.T) {
	end := date(2024, 3, 1)

	tests := []struct {
		name      string
		current   time.Time
		freq      domain.Frequency
		bounds    Bounds
		hasNext   bool
		exhausted bool
	}{
		{name: "unbounded", current: date(2024, 1, 1), freq: domain.FrequencyMonthly, hasNext: true},
		{name: "next within end date", current: date(2024, 1, 1), freq: domain.FrequencyMonthly, bounds: Bounds{EndDate: &end}, hasNext: true},
		{name: "next equal to end date", current: date(2024, 2, 1), freq: domain.FrequencyMonthly, bounds: Bounds{EndDate: &end}, hasNext: true},
		{name: "next after end date", current: date(2024, 2, 15), freq: domain.FrequencyMonthly, bounds: Bounds{EndDate: &end}, hasNext: true, exhausted: true},
		{name: "max executions reached", current: date(2024, 1, 1), freq: domain.FrequencyWeekly, bounds: Bounds{MaxExecutions: 3, ExecutionCount: 3}, hasNext: true, exhausted: true},
		{name: "max executions not reached", current: date(2024, 1, 1), freq: domain.FrequencyWeekly, bounds: Bounds{MaxExecutions: 3, ExecutionCount: 2}, hasNext: true},
		{name: "one time", current: date(2024, 1, 1), freq: domain.FrequencyOneTime, hasNext: false, exhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Advance(tt.current, tt.freq, tt.bounds)
			require.NoError(t, err)
			assert.Equal(t, tt.hasNext, result.HasNext)
			assert.Equal(t, tt.exhausted, result.Exhausted)
		})
	}
}

func TestAdvance_AnchorDayRecoversAfterClamp(t *testing.T) {
	current := date(2024, 1, 31)
	var got []time.Time
	for i := 0; i < 3; i++ {
		result, err := Advance(current, domain.FrequencyMonthly, Bounds{AnchorDay: 31})
		require.NoError(t, err)
		require.True(t, result.HasNext)
		got = append(got, result.Next)
		current = result.Next
	}

	assert.Equal(t, []time.Time{date(2024, 2, 29), date(2024, 3, 31), date(2024, 4, 30)}, got)
}
