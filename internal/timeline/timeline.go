// Package timeline implements the fixed, non-leap calendar the computation
// core runs on: cadenced timestep generation, interval arithmetic and
// backward-looking windows. Leap days are never generated or expected.
package timeline

import (
	"sort"
	"time"

	"github.com/pluvio/hydroclim-go/internal/utils"
)

// Cadences lists the valid numbers of subdivisions of one year.
var Cadences = []int{1, 2, 3, 4, 6, 12, 24, 36, 365}

// firstMonths maps a month-boundary cadence to the first month of each of
// its intervals.
var firstMonths = map[int][]time.Month{
	1:  {time.January},
	2:  {time.January, time.July},
	3:  {time.January, time.May, time.September},
	4:  {time.January, time.April, time.July, time.October},
	6:  {time.January, time.March, time.May, time.July, time.September, time.November},
	12: {time.January, time.February, time.March, time.April, time.May, time.June, time.July, time.August, time.September, time.October, time.November, time.December},
}

// firstDays maps an intra-month cadence to the first day of each of its
// fixed-length day blocks, independent of actual month length.
var firstDays = map[int][]int{
	24: {1, 16},
	36: {1, 11, 21},
}

// Range is an inclusive interval of days.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewRange builds a Range from two midnight-normalized dates.
func NewRange(start, end time.Time) Range {
	return Range{Start: Midnight(start), End: Midnight(end)}
}

// Contains reports whether t falls inside the range, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Days returns every calendar day in the range, in order.
func (r Range) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Midnight normalizes a time to UTC midnight. All core timesteps carry no
// timezone or intra-day semantics.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func validCadence(n int) bool {
	for _, c := range Cadences {
		if c == n {
			return true
		}
	}
	return false
}

// Timesteps produces the ordered sequence of timesteps inside [start, end]
// at cadence n. For n=365 every calendar day is produced except February 29.
func Timesteps(start, end time.Time, n int) ([]time.Time, error) {
	if !validCadence(n) {
		return nil, utils.NewValidationErrorf("invalid cadence %d: must be one of %v", n, Cadences)
	}
	start, end = Midnight(start), Midnight(end)

	var steps []time.Time
	switch {
	case n == 365:
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if d.Month() == time.February && d.Day() == 29 {
				continue
			}
			steps = append(steps, d)
		}
	case n <= 12:
		for year := start.Year(); year <= end.Year(); year++ {
			for _, month := range firstMonths[n] {
				steps = append(steps, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
			}
		}
	default: // 24, 36
		for year := start.Year(); year <= end.Year(); year++ {
			for month := time.January; month <= time.December; month++ {
				for _, day := range firstDays[n] {
					steps = append(steps, time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
				}
			}
		}
	}

	clipped := steps[:0]
	for _, s := range steps {
		if !s.Before(start) && !s.After(end) {
			clipped = append(clipped, s)
		}
	}
	return clipped, nil
}

// Interval maps a date to its 1-indexed position within its year under
// cadence n. n=365 has no interval semantics and is rejected.
func Interval(d time.Time, n int) (int, error) {
	if !validCadence(n) || n == 365 {
		return 0, utils.NewValidationErrorf("invalid interval cadence %d", n)
	}

	if n <= 12 {
		monthsPer := 12 / n
		return (int(d.Month())-1)/monthsPer + 1, nil
	}

	perMonth := n / 12
	dayLen := 15
	if n == 36 {
		dayLen = 10
	}
	inMonth := (d.Day()-1)/dayLen + 1
	if inMonth > perMonth {
		inMonth = perMonth
	}
	return (int(d.Month())-1)*perMonth + inMonth, nil
}

// DateFromInterval is the exact inverse of Interval. With end=false it
// returns the interval's first day; with end=true its last day, which is
// one day before the next interval's first day (December overflow rolls
// into the next year).
func DateFromInterval(interval, year, n int, end bool) (time.Time, error) {
	if !validCadence(n) || n == 365 {
		return time.Time{}, utils.NewValidationErrorf("invalid interval cadence %d", n)
	}

	if n <= 12 {
		monthsPer := 12 / n
		month := (interval-1)*monthsPer + 1
		d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		if end {
			d = d.AddDate(0, monthsPer, -1)
		}
		return d, nil
	}

	perMonth := n / 12
	dayLen := 15
	if n == 36 {
		dayLen = 10
	}
	month := (interval-1)/perMonth + 1
	inMonth := (interval-1)%perMonth + 1
	day := (inMonth-1)*dayLen + 1
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if end {
		if inMonth == perMonth {
			// last block of the month runs to the month's true end
			d = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
		} else {
			d = d.AddDate(0, 0, dayLen-1)
		}
	}
	return d, nil
}

// IntervalStart returns the first day of the interval containing d.
func IntervalStart(d time.Time, n int) (time.Time, error) {
	i, err := Interval(d, n)
	if err != nil {
		return time.Time{}, err
	}
	return DateFromInterval(i, d.Year(), n, false)
}

// IntervalEnd returns the last day of the interval containing d.
func IntervalEnd(d time.Time, n int) (time.Time, error) {
	i, err := Interval(d, n)
	if err != nil {
		return time.Time{}, err
	}
	return DateFromInterval(i, d.Year(), n, true)
}

// Window returns the Range of size calendar units ending the day before t.
// Unit is one of day, week, month, year, dekad (plural accepted). Month and
// year steps clamp to the end of short months instead of normalizing
// forward.
func Window(t time.Time, size int, unit string) (Range, error) {
	t = Midnight(t)
	end := t.AddDate(0, 0, -1)

	switch normalizeUnit(unit) {
	case "days":
		return Range{Start: t.AddDate(0, 0, -size), End: end}, nil
	case "weeks":
		return Range{Start: t.AddDate(0, 0, -7*size), End: end}, nil
	case "months":
		return Range{Start: addMonthsClamped(t, -size), End: end}, nil
	case "years":
		return Range{Start: addMonthsClamped(t, -12*size), End: end}, nil
	case "dekads":
		return dekadWindow(t, end, size)
	default:
		return Range{}, utils.NewValidationErrorf("unrecognized window unit %q: must be one of days, weeks, months, years, dekads", unit)
	}
}

// dekadWindow steps back whole dekads when the window end lands exactly on
// a dekad boundary, and falls back to 10-day blocks otherwise.
func dekadWindow(t, end time.Time, size int) (Range, error) {
	boundary, err := IntervalEnd(end, 36)
	if err != nil {
		return Range{}, err
	}
	if !end.Equal(boundary) {
		return Range{Start: t.AddDate(0, 0, -10*size), End: end}, nil
	}
	cur := end
	for i := 0; i < size; i++ {
		start, err := IntervalStart(cur, 36)
		if err != nil {
			return Range{}, err
		}
		cur = start.AddDate(0, 0, -1)
	}
	return Range{Start: cur.AddDate(0, 0, 1), End: end}, nil
}

func normalizeUnit(unit string) string {
	if unit == "" {
		return unit
	}
	if unit[len(unit)-1] != 's' {
		unit += "s"
	}
	return unit
}

// addMonthsClamped shifts t by months whole months, clamping the day to the
// target month's length rather than rolling into the following month.
func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// DayPositions returns the day-position timesteps of one fictitious
// non-leap year at cadence n, materialized as year-1900 dates. Parameters
// are keyed by these positions, never by a real year.
func DayPositions(n int) ([]time.Time, error) {
	return Timesteps(
		time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1900, time.December, 31, 0, 0, 0, 0, time.UTC),
		n,
	)
}

// DayPosition maps a timestep onto the fictitious parameter year.
func DayPosition(t time.Time) time.Time {
	return time.Date(1900, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SortTimes sorts a slice of timesteps chronologically in place.
func SortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
