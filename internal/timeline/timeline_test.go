package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTimesteps_Quarterly(t *testing.T) {
	steps, err := Timesteps(date(2020, time.February, 15), date(2021, time.May, 1), 4)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		date(2020, time.April, 1),
		date(2020, time.July, 1),
		date(2020, time.October, 1),
		date(2021, time.January, 1),
		date(2021, time.April, 1),
	}, steps)
}

func TestTimesteps_Dekads(t *testing.T) {
	steps, err := Timesteps(date(2020, time.January, 5), date(2020, time.February, 12), 36)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		date(2020, time.January, 11),
		date(2020, time.January, 21),
		date(2020, time.February, 1),
		date(2020, time.February, 11),
	}, steps)
}

func TestTimesteps_DailySkipsLeapDay(t *testing.T) {
	steps, err := Timesteps(date(2020, time.February, 27), date(2020, time.March, 2), 365)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		date(2020, time.February, 27),
		date(2020, time.February, 28),
		date(2020, time.March, 1),
		date(2020, time.March, 2),
	}, steps)

	// a range starting on the leap day never yields it either
	steps, err = Timesteps(date(2020, time.February, 29), date(2020, time.March, 1), 365)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2020, time.March, 1)}, steps)
}

func TestTimesteps_InvalidCadence(t *testing.T) {
	for _, n := range []int{0, 5, 7, 13, 364, 366} {
		_, err := Timesteps(date(2020, time.January, 1), date(2020, time.December, 31), n)
		assert.Error(t, err, "cadence %d", n)
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		d    time.Time
		n    int
		want int
	}{
		{date(2020, time.June, 15), 1, 1},
		{date(2020, time.June, 15), 2, 1},
		{date(2020, time.July, 1), 2, 2},
		{date(2020, time.October, 31), 4, 4},
		{date(2020, time.December, 1), 12, 12},
		{date(2020, time.January, 15), 24, 1},
		{date(2020, time.January, 16), 24, 2},
		{date(2020, time.January, 31), 24, 2},
		{date(2020, time.March, 10), 36, 7},
		{date(2020, time.March, 11), 36, 8},
		{date(2020, time.March, 31), 36, 9},
	}

	for _, tt := range tests {
		got, err := Interval(tt.d, tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s cadence %d", tt.d.Format("2006-01-02"), tt.n)
	}
}

func TestInterval_RejectsDailyCadence(t *testing.T) {
	_, err := Interval(date(2020, time.June, 15), 365)
	assert.Error(t, err)
}

func TestDateFromInterval(t *testing.T) {
	// quarterly interval 4 covers Oct-Dec
	start, err := DateFromInterval(4, 2020, 4, false)
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.October, 1), start)

	end, err := DateFromInterval(4, 2020, 4, true)
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.December, 31), end)

	// last dekad of February runs to the month's true end
	end, err = DateFromInterval(6, 2021, 36, true)
	require.NoError(t, err)
	assert.Equal(t, date(2021, time.February, 28), end)

	// December overflow rolls into the next year
	end, err = DateFromInterval(1, 2020, 1, true)
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.December, 31), end)
}

// Round-trip property: for every valid cadence and every day of the year,
// the interval's start and end bracket the date.
func TestIntervalRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 6, 12, 24, 36} {
		for d := date(2021, time.January, 1); d.Year() == 2021; d = d.AddDate(0, 0, 1) {
			start, err := IntervalStart(d, n)
			require.NoError(t, err)
			end, err := IntervalEnd(d, n)
			require.NoError(t, err)

			assert.False(t, d.Before(start), "cadence %d date %s start %s", n, d, start)
			assert.False(t, d.After(end), "cadence %d date %s end %s", n, d, end)
		}
	}
}

func TestWindow_CalendarUnits(t *testing.T) {
	w, err := Window(date(2020, time.March, 15), 10, "days")
	require.NoError(t, err)
	assert.Equal(t, Range{Start: date(2020, time.March, 5), End: date(2020, time.March, 14)}, w)

	w, err = Window(date(2020, time.March, 15), 2, "weeks")
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.March, 1), w.Start)

	w, err = Window(date(2020, time.March, 15), 1, "month")
	require.NoError(t, err)
	assert.Equal(t, Range{Start: date(2020, time.February, 15), End: date(2020, time.March, 14)}, w)

	w, err = Window(date(2020, time.June, 1), 10, "years")
	require.NoError(t, err)
	assert.Equal(t, Range{Start: date(2010, time.June, 1), End: date(2020, time.May, 31)}, w)
}

func TestWindow_MonthClampsToShortMonth(t *testing.T) {
	w, err := Window(date(2020, time.March, 31), 1, "months")
	require.NoError(t, err)
	assert.Equal(t, date(2020, time.February, 29), w.Start)
}

func TestWindow_DekadOnBoundary(t *testing.T) {
	// window ending Jan 31 lands on a dekad boundary: step back whole dekads
	w, err := Window(date(2020, time.February, 1), 2, "dekads")
	require.NoError(t, err)
	assert.Equal(t, Range{Start: date(2020, time.January, 11), End: date(2020, time.January, 31)}, w)
}

func TestWindow_DekadOffBoundary(t *testing.T) {
	// Jan 14 is not a dekad end: approximate with 10-day blocks
	w, err := Window(date(2020, time.January, 15), 2, "dekads")
	require.NoError(t, err)
	assert.Equal(t, Range{Start: date(2019, time.December, 26), End: date(2020, time.January, 14)}, w)
}

func TestWindow_UnknownUnit(t *testing.T) {
	_, err := Window(date(2020, time.January, 1), 1, "fortnights")
	assert.Error(t, err)
}

func TestRangeDaysAndContains(t *testing.T) {
	r := NewRange(date(2020, time.January, 30), date(2020, time.February, 2))
	assert.Len(t, r.Days(), 4)
	assert.True(t, r.Contains(date(2020, time.January, 30)))
	assert.True(t, r.Contains(date(2020, time.February, 2)))
	assert.False(t, r.Contains(date(2020, time.February, 3)))
}

func TestDayPositions(t *testing.T) {
	pos, err := DayPositions(12)
	require.NoError(t, err)
	require.Len(t, pos, 12)
	assert.Equal(t, date(1900, time.January, 1), pos[0])
	assert.Equal(t, date(1900, time.December, 1), pos[11])

	daily, err := DayPositions(365)
	require.NoError(t, err)
	assert.Len(t, daily, 365)
}

func TestDayPosition(t *testing.T) {
	assert.Equal(t, date(1900, time.July, 16), DayPosition(date(2023, time.July, 16)))
}
