package database

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Period is the run of calendar days one pipeline run collects events into.
// Its ID is a single date ("2026-03-02") or an inclusive range
// ("2026-02-28..2026-03-02"); events are stored under that ID.
type Period struct {
	Start time.Time
	End   time.Time
}

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format(dateLayout)
}

// PeriodEnding returns the period of days calendar days ending on end
// (YYYY-MM-DD). days below 1 count as 1.
func PeriodEnding(end string, days int) (Period, error) {
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period end %q: %w", end, err)
	}
	if days < 1 {
		days = 1
	}
	return Period{Start: e.AddDate(0, 0, -(days - 1)), End: e}, nil
}

// ParsePeriod parses a period ID.
func ParsePeriod(id string) (Period, error) {
	startStr, endStr, isRange := strings.Cut(id, "..")
	if !isRange {
		endStr = startStr
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", id, err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", id, err)
	}
	if end.Before(start) {
		return Period{}, fmt.Errorf("invalid period %q: ends before it starts", id)
	}
	return Period{Start: start, End: end}, nil
}

// ID returns the period's ID.
func (p Period) ID() string {
	start, end := p.Start.Format(dateLayout), p.End.Format(dateLayout)
	if start == end {
		return start
	}
	return start + ".." + end
}

// Days is the number of calendar days covered, counting both ends.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// Since returns the earliest publish time of an event collected into the
// period by a run at now: one day of lookback for every day in the period.
// Feeds and search APIs only report publish times, so the window is rolling
// rather than aligned to midnight.
func (p Period) Since(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.Days())
}

// Display formats the period for humans: "Feb 06, 2026" or
// "Feb 01 - Feb 06, 2026".
func (p Period) Display() string {
	if p.Days() == 1 {
		return p.End.Format("Jan 02, 2006")
	}
	return fmt.Sprintf("%s - %s", p.Start.Format("Jan 02"), p.End.Format("Jan 02, 2006"))
}

// FormatPeriodDisplay formats a period ID for display, returning unparsable
// IDs unchanged.
func FormatPeriodDisplay(periodID string) string {
	p, err := ParsePeriod(periodID)
	if err != nil {
		return periodID
	}
	return p.Display()
}
