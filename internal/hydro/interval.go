package hydro

import (
	"fmt"
	"strings"
	"time"
)

// Interval is the sampling interval of a request item. It defines both the grid
// step and, for some sources, the backing table.
type Interval string

const (
	IntervalHour      Interval = "HOUR"
	IntervalInstant   Interval = "INSTANT"
	IntervalInstant1  Interval = "INSTANT:1"
	IntervalInstant15 Interval = "INSTANT:15"
	IntervalInstant60 Interval = "INSTANT:60"
	IntervalDay       Interval = "DAY"
	IntervalMonth     Interval = "MONTH"
	IntervalYear      Interval = "YEAR"
	IntervalWaterYear Interval = "WATER YEAR"
)

// ParseInterval normalizes a user supplied interval token. The generic INSTANT
// token is accepted and left for NormalizeInterval to resolve.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToUpper(strings.TrimSpace(s)))
	switch iv {
	case IntervalHour, IntervalInstant, IntervalInstant1, IntervalInstant15,
		IntervalInstant60, IntervalDay, IntervalMonth, IntervalYear, IntervalWaterYear:
		return iv, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInterval, s)
}

// IsInstant reports whether the interval is one of the instantaneous forms.
func (i Interval) IsInstant() bool {
	return i == IntervalInstant || strings.HasPrefix(string(i), string(IntervalInstant)+":")
}

// NormalizeInterval rewrites the generic INSTANT interval to the default
// instantaneous step of the source. Other intervals are returned unchanged.
func NormalizeInterval(iv Interval, src Source) Interval {
	if iv != IntervalInstant {
		return iv
	}
	switch src.Family() {
	case FamilyUSBR:
		return IntervalInstant60
	case FamilyUSGS:
		return IntervalInstant15
	case FamilyAquarius:
		return IntervalInstant1
	}
	return iv
}

// Floor snaps t down to the interval boundary at or before it.
func (i Interval) Floor(t time.Time) (time.Time, error) {
	t = WallClock(t)
	switch i {
	case IntervalInstant1:
		return t, nil
	case IntervalInstant15:
		return t.Add(-time.Duration(t.Minute()%15) * time.Minute), nil
	case IntervalHour, IntervalInstant60:
		return t.Truncate(time.Hour), nil
	case IntervalDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case IntervalYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case IntervalWaterYear:
		year := t.Year()
		if t.Month() < time.October {
			year--
		}
		return time.Date(year, time.October, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownInterval, string(i))
}

// Next returns the boundary one step after t.
func (i Interval) Next(t time.Time) (time.Time, error) {
	switch i {
	case IntervalInstant1:
		return t.Add(time.Minute), nil
	case IntervalInstant15:
		return t.Add(15 * time.Minute), nil
	case IntervalHour, IntervalInstant60:
		return t.Add(time.Hour), nil
	case IntervalDay:
		return t.AddDate(0, 0, 1), nil
	case IntervalMonth:
		return t.AddDate(0, 1, 0), nil
	case IntervalYear, IntervalWaterYear:
		return t.AddDate(1, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownInterval, string(i))
}

// ApproxStep is the nominal duration of one step, used to estimate point
// counts when chunking a request window.
func (i Interval) ApproxStep() time.Duration {
	switch i {
	case IntervalInstant1, IntervalInstant:
		return time.Minute
	case IntervalInstant15:
		return 15 * time.Minute
	case IntervalHour, IntervalInstant60:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	case IntervalMonth:
		return 30 * 24 * time.Hour
	case IntervalYear, IntervalWaterYear:
		return 365 * 24 * time.Hour
	}
	return time.Hour
}
