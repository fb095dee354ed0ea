// Package reconstruct derives a best-effort calendar date for rows that
// carry only partial temporal fields, with a strict confidence hierarchy.
//
// Priority order (first applicable wins):
//
//  1. exact_day:             an explicit, calendar-valid day of month.
//  2. weekday_reconstructed: the first date in (year, month) matching the
//     row's day-of-week code.
//  3. mid_month_fallback:    day 15, chosen to minimize bias toward either
//     month boundary.
//
// The source system encodes day-of-week as 1=Sunday … 7=Saturday. Go's
// time.Weekday numbers Sunday as 0, so the conversion is
// time.Weekday(code-1). The reconstructed date is built with time.Date from
// validated components, so an impossible date can never be produced.
package reconstruct

import (
	"fmt"
	"time"
)

// Method identifies which rule produced a reconstructed date.
type Method string

const (
	MethodExact    Method = "exact_day"
	MethodWeekday  Method = "weekday_reconstructed"
	MethodFallback Method = "mid_month_fallback"
)

// confidence ranks methods for comparison; higher is more trustworthy.
var confidence = map[Method]int{
	MethodExact:    3,
	MethodWeekday:  2,
	MethodFallback: 1,
}

// Reconstructed is a derived date plus its provenance. It is never mutated
// after creation.
type Reconstructed struct {
	Date   time.Time
	Method Method
}

// Confidence returns the method's rank (exact > weekday > fallback).
func (r Reconstructed) Confidence() int { return confidence[r.Method] }

// Inputs are the partial temporal fields available on one row. Zero values
// mean "absent": the source never uses day 0 or weekday code 0.
type Inputs struct {
	Year    int
	Month   int
	Day     int
	Weekday int // source encoding: 1=Sunday … 7=Saturday
}

// Bounds is the sane historical range; years outside it are data corruption,
// not events, and are rejected rather than coerced.
type Bounds struct {
	MinYear int
	MaxYear int
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Date reconstructs a calendar date from partial fields.
//
// Errors are returned only for year/month outside the sane range, where no
// defensible date exists to fall back to. An out-of-domain day or weekday code
// simply falls through to the next rule.
func Date(in Inputs, b Bounds) (Reconstructed, error) {
	if in.Year < b.MinYear || in.Year > b.MaxYear {
		return Reconstructed{}, fmt.Errorf("reconstruct: year %d outside sane range [%d, %d]", in.Year, b.MinYear, b.MaxYear)
	}
	if in.Month < 1 || in.Month > 12 {
		return Reconstructed{}, fmt.Errorf("reconstruct: month %d outside [1, 12]", in.Month)
	}
	month := time.Month(in.Month)

	// Rule 1: explicit day, if calendar-valid for this year/month.
	if in.Day >= 1 && in.Day <= daysIn(in.Year, month) {
		return Reconstructed{
			Date:   time.Date(in.Year, month, in.Day, 0, 0, 0, 0, time.UTC),
			Method: MethodExact,
		}, nil
	}

	// Rule 2: first occurrence of the encoded weekday within the month.
	if in.Weekday >= 1 && in.Weekday <= 7 {
		target := time.Weekday(in.Weekday - 1)
		first := time.Date(in.Year, month, 1, 0, 0, 0, 0, time.UTC)
		offset := (int(target) - int(first.Weekday()) + 7) % 7
		return Reconstructed{
			Date:   first.AddDate(0, 0, offset),
			Method: MethodWeekday,
		}, nil
	}

	// Rule 3: mid-month.
	return Reconstructed{
		Date:   time.Date(in.Year, month, 15, 0, 0, 0, 0, time.UTC),
		Method: MethodFallback,
	}, nil
}
