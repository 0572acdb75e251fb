package inventory

import "time"

// =============================================================================
// BUSINESS DAYS - Valuation and closings work at day granularity
// =============================================================================

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable instant of t's day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// =============================================================================
// PERIOD - Closing window
// =============================================================================

// Period is an inclusive range of business days.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Valid() bool {
	return !p.End.Before(p.Start)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// DayKey formats t as the calendar day it falls on, without conversion.
// Closings are stored and compared by this key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
