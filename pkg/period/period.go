// Package period implements the calendar geometry shared by the grid builder,
// unit normalization and aggregation: frequency codes, bucket boundaries and
// inclusive period ends.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnsupportedFrequency = errors.New("unsupported frequency")
	ErrAggregationTooFine   = errors.New("aggregation frequency is finer than the sampling frequency")
)

// Unit is the calendar unit of a Frequency.
type Unit int

const (
	unitNone Unit = iota
	Minute
	Hour
	Day
	Week
	Month
	Year
)

var unitLetters = map[Unit]string{
	Minute: "m",
	Hour:   "h",
	Day:    "d",
	Week:   "w",
	Month:  "t",
	Year:   "y",
}

// Frequency is N units of time. The zero value means "none": the whole window
// is a single bucket.
type Frequency struct {
	N    int
	Unit Unit
}

var (
	None          = Frequency{}
	QuarterHourly = Frequency{N: 15, Unit: Minute}
	Hourly        = Frequency{N: 1, Unit: Hour}
	Daily         = Frequency{N: 1, Unit: Day}
	Weekly        = Frequency{N: 1, Unit: Week}
	Monthly       = Frequency{N: 1, Unit: Month}
	Yearly        = Frequency{N: 1, Unit: Year}
)

// IsNone reports whether f is the "whole window" frequency.
func (f Frequency) IsNone() bool {
	return f.N == 0 || f.Unit == unitNone
}

func (f Frequency) String() string {
	if f.IsNone() {
		return "none"
	}
	return strconv.Itoa(f.N) + unitLetters[f.Unit]
}

// Nominal returns the duration used to compare frequencies. Months count as
// 30 days and years as 365 days.
func (f Frequency) Nominal() time.Duration {
	n := time.Duration(f.N)
	switch f.Unit {
	case Minute:
		return n * time.Minute
	case Hour:
		return n * time.Hour
	case Day:
		return n * 24 * time.Hour
	case Week:
		return n * 7 * 24 * time.Hour
	case Month:
		return n * 30 * 24 * time.Hour
	case Year:
		return n * 365 * 24 * time.Hour
	default:
		return 0
	}
}

// Add returns the start of the period following the one starting at t.
func (f Frequency) Add(t time.Time) time.Time {
	switch f.Unit {
	case Minute:
		return t.Add(time.Duration(f.N) * time.Minute)
	case Hour:
		return t.Add(time.Duration(f.N) * time.Hour)
	case Day:
		return t.AddDate(0, 0, f.N)
	case Week:
		return t.AddDate(0, 0, 7*f.N)
	case Month:
		return t.AddDate(0, f.N, 0)
	case Year:
		return t.AddDate(f.N, 0, 0)
	default:
		return t
	}
}

// Truncate returns the start of the bucket containing t. Minute and hour
// buckets are aligned to midnight, weeks start on Monday.
func (f Frequency) Truncate(t time.Time) time.Time {
	loc := t.Location()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	switch f.Unit {
	case Minute:
		minutes := t.Hour()*60 + t.Minute()
		return midnight.Add(time.Duration(minutes-minutes%f.N) * time.Minute)
	case Hour:
		return midnight.Add(time.Duration(t.Hour()-t.Hour()%f.N) * time.Hour)
	case Day:
		if f.N == 1 {
			return midnight
		}
		epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, loc)
		days := int(midnight.Sub(epoch).Hours()+12) / 24
		return midnight.AddDate(0, 0, -(days % f.N))
	case Week:
		offset := (int(t.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// Steps returns every period start in [start, end) stepping by f, beginning
// at start. It returns nil for an empty window or a none frequency.
func Steps(start, end time.Time, f Frequency) []time.Time {
	if f.IsNone() || !start.Before(end) {
		return nil
	}
	var out []time.Time
	for t := start; t.Before(end); t = f.Add(t) {
		out = append(out, t)
	}
	return out
}

// End returns the last second of the period of frequency f that starts at ts.
// windowEnd is the last instant the report covers, not the exclusive end.
// Unrecognized frequencies and ends past windowEnd are clamped to 23:59:59 of
// windowEnd's day.
func End(ts time.Time, f Frequency, windowEnd time.Time) time.Time {
	loc := ts.Location()
	var end time.Time
	switch f.Unit {
	case Minute, Hour:
		if f.N > 0 {
			end = ts.Add(f.Nominal() - time.Second)
		}
	case Day:
		if f.N > 0 {
			end = time.Date(ts.Year(), ts.Month(), ts.Day()+f.N, 0, 0, 0, 0, loc).Add(-time.Second)
		}
	case Week:
		if f.N == 1 {
			toSunday := (7 - int(ts.Weekday())) % 7
			end = time.Date(ts.Year(), ts.Month(), ts.Day()+toSunday, 23, 59, 59, 0, loc)
		}
	case Month:
		if f.N == 1 {
			end = time.Date(ts.Year(), ts.Month()+1, 1, 0, 0, 0, 0, loc).Add(-time.Second)
		}
	case Year:
		if f.N == 1 {
			end = time.Date(ts.Year(), time.December, 31, 23, 59, 59, 0, loc)
		}
	}
	if end.IsZero() || end.After(windowEnd) {
		return time.Date(windowEnd.Year(), windowEnd.Month(), windowEnd.Day(), 23, 59, 59, 0, windowEnd.Location())
	}
	return end
}

// Seconds is the length of the period starting at ts, counting the inclusive
// last second.
func Seconds(ts time.Time, f Frequency, windowEnd time.Time) float64 {
	return End(ts, f, windowEnd).Sub(ts).Seconds() + 1
}

// Validate checks that a sampling and an aggregation frequency can be used
// together.
func Validate(sampling, aggregation Frequency) error {
	if sampling.IsNone() {
		return fmt.Errorf("sampling interval is required: %w", ErrUnsupportedFrequency)
	}
	if aggregation.IsNone() {
		return nil
	}
	if aggregation.Nominal() < sampling.Nominal() {
		return fmt.Errorf("%s < %s: %w", aggregation, sampling, ErrAggregationTooFine)
	}
	return nil
}

// FromNumberUnit builds a sampling frequency from a logger resolution such as
// (15, "m"). Units are m, h, d, w, t (month) and y.
func FromNumberUnit(n int, unit string) (Frequency, error) {
	if n <= 0 {
		return None, fmt.Errorf("invalid frequency number %d: %w", n, ErrUnsupportedFrequency)
	}
	var u Unit
	switch unit {
	case "m":
		u = Minute
	case "h":
		u = Hour
	case "d":
		u = Day
	case "w":
		u = Week
	case "t":
		u = Month
	case "y":
		u = Year
	default:
		return None, fmt.Errorf("invalid frequency unit %q: %w", unit, ErrUnsupportedFrequency)
	}
	if u >= Week && n != 1 {
		return None, fmt.Errorf("only single %s periods are supported: %w", unitLetters[u], ErrUnsupportedFrequency)
	}
	return Frequency{N: n, Unit: u}, nil
}

// Parse accepts the short codes produced by String ("15m", "1h", "1t") as well
// as the pandas style codes stored by older clients ("15T", "1H", "1MS").
func Parse(code string) (Frequency, error) {
	code = strings.TrimSpace(code)
	if code == "" || code == "none" {
		return None, nil
	}
	i := 0
	for i < len(code) && code[i] >= '0' && code[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		var err error
		n, err = strconv.Atoi(code[:i])
		if err != nil {
			return None, fmt.Errorf("invalid frequency %q: %w", code, ErrUnsupportedFrequency)
		}
	}
	var unit string
	switch code[i:] {
	case "m", "min", "T":
		unit = "m"
	case "h", "H":
		unit = "h"
	case "d", "D":
		unit = "d"
	case "w", "W":
		unit = "w"
	case "t", "M", "MS":
		unit = "t"
	case "y", "Y":
		unit = "y"
	default:
		return None, fmt.Errorf("invalid frequency %q: %w", code, ErrUnsupportedFrequency)
	}
	return FromNumberUnit(n, unit)
}

// FromGroupBy maps the report grouping names to an aggregation frequency. An
// empty string or "none" means the whole window.
func FromGroupBy(groupBy string) (Frequency, error) {
	switch groupBy {
	case "", "none":
		return None, nil
	case "15min":
		return QuarterHourly, nil
	case "hour":
		return Hourly, nil
	case "day":
		return Daily, nil
	case "week":
		return Weekly, nil
	case "month":
		return Monthly, nil
	case "year":
		return Yearly, nil
	default:
		return None, fmt.Errorf("invalid group by %q: %w", groupBy, ErrUnsupportedFrequency)
	}
}
