package collection

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar date without a time of day
// =============================================================================

// Day is a civil calendar date. Due dates are days, not instants: an
// installment due 2024-01-10 is due for the whole of that day wherever the
// branch is. Internally it is midnight UTC.
type Day struct {
	t time.Time
}

const dayLayout = "2006-01-02"

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar date of t in t's own location.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Day{t: t}, nil
}

// Comparison
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }
func (d Day) IsZero() bool      { return d.t.IsZero() }

// Properties
func (d Day) Year() int         { return d.t.Year() }
func (d Day) Month() time.Month { return d.t.Month() }
func (d Day) Date() int         { return d.t.Day() }
func (d Day) Time() time.Time   { return d.t }
func (d Day) String() string    { return d.t.Format(dayLayout) }
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// AddMonthsClamped moves n calendar months forward, clamping to the last day
// of the target month: Jan 31 + 1 month is Feb 29 in a leap year, not Mar 2.
func (d Day) AddMonthsClamped(n int) Day {
	first := time.Date(d.t.Year(), d.t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := daysIn(first.Year(), first.Month())
	day := d.t.Day()
	if day > last {
		day = last
	}
	return NewDay(first.Year(), first.Month(), day)
}

func (d Day) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte(""), nil
	}
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// MONTH BUCKETS
// =============================================================================

// YearMonth identifies a calendar month including its year, so December 2023
// and December 2024 never share a bucket.
type YearMonth struct {
	Year  int
	Month time.Month
}

func YearMonthOf(t time.Time) YearMonth { return YearMonth{Year: t.Year(), Month: t.Month()} }

// AddMonths steps across year boundaries.
func (ym YearMonth) AddMonths(n int) YearMonth {
	t := time.Date(ym.Year, ym.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

func (ym YearMonth) String() string { return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month)) }

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
