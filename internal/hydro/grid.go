package hydro

import (
	"fmt"
	"time"
)

// Grid is the canonical, strictly increasing timestamp axis of a query.
type Grid []time.Time

// BuildGrid returns the timestamps from start snapped down to the interval
// boundary, stepping by the interval, stopping strictly before end.
func BuildGrid(start, end time.Time, iv Interval) (Grid, error) {
	start, end = WallClock(start), WallClock(end)
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvertedWindow, FormatTimestamp(start), FormatTimestamp(end))
	}

	ts, err := iv.Floor(start)
	if err != nil {
		return nil, err
	}

	var grid Grid
	for ts.Before(end) {
		grid = append(grid, ts)
		if ts, err = iv.Next(ts); err != nil {
			return nil, err
		}
	}

	if len(grid) == 0 {
		return nil, ErrEmptyGrid
	}
	return grid, nil
}

// Strings renders every grid timestamp in TimestampLayout.
func (g Grid) Strings() []string {
	out := make([]string, len(g))
	for i, ts := range g {
		out[i] = FormatTimestamp(ts)
	}
	return out
}
