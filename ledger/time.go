package ledger

import "time"

// =============================================================================
// TIME POINT - Day-granularity date used throughout the ledger
// =============================================================================

// TimePoint is a date. All ledger semantics (capture dates, posting dates,
// period locks, aging) operate at day granularity in UTC.
type TimePoint struct {
	Time time.Time
}

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() TimePoint {
	now := time.Now().UTC()
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// Comparison
func (tp TimePoint) Before(o TimePoint) bool        { return tp.normalize().Before(o.normalize()) }
func (tp TimePoint) Equal(o TimePoint) bool         { return tp.normalize().Equal(o.normalize()) }
func (tp TimePoint) After(o TimePoint) bool         { return tp.normalize().After(o.normalize()) }
func (tp TimePoint) BeforeOrEqual(o TimePoint) bool { return tp.Before(o) || tp.Equal(o) }
func (tp TimePoint) AfterOrEqual(o TimePoint) bool  { return tp.After(o) || tp.Equal(o) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }
func (tp TimePoint) AddYears(n int) TimePoint  { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string { return tp.normalize().Format("2006-01-02") }

// ParseTimePoint parses a YYYY-MM-DD date.
func ParseTimePoint(s string) (TimePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TimePoint{}, err
	}
	return FromTime(t), nil
}

func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

func StartOfMonth(year int, month time.Month) TimePoint { return NewTimePoint(year, month, 1) }

func EndOfMonth(year int, month time.Month) TimePoint {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return TimePoint{Time: t}
}

// =============================================================================
// PERIOD - Closed date range [Start, End]
// =============================================================================

// Period is a closed date range. Used for period locks, recognition runs
// and reporting windows.
type Period struct {
	Start TimePoint
	End   TimePoint
}

func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return p.Start.BeforeOrEqual(o.End) && o.Start.BeforeOrEqual(p.End)
}

// Days returns the number of days in the period, inclusive of both ends.
func (p Period) Days() int { return DaysBetween(p.Start, p.End) + 1 }

func (p Period) IsValid() bool { return !p.End.Before(p.Start) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthPeriod returns the calendar month containing the given date.
func MonthPeriod(t TimePoint) Period {
	return Period{Start: StartOfMonth(t.Year(), t.Month()), End: EndOfMonth(t.Year(), t.Month())}
}
