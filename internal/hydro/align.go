package hydro

import (
	"sort"
	"strings"
)

// AlignResult is one series placed on the grid plus discard diagnostics.
type AlignResult struct {
	SeriesID  string
	Series    Series
	Extra     int // rows dropped because they fell between or after grid points
	Malformed int // rows dropped because their timestamp was unusable
}

// Discarded is the total number of adapter rows that did not land on the grid.
func (r AlignResult) Discarded() int {
	return r.Extra + r.Malformed
}

// Align places rows onto grid. Both are walked in lock-step: a row matching the
// current grid point is emitted, an earlier row is discarded as extra, and a
// grid point with no row gets a missing cell. Rows left after the grid ends are
// extra. The result always has exactly len(grid) rows.
func Align(grid Grid, rows []Row, seriesID string) AlignResult {
	res := AlignResult{
		SeriesID: seriesID,
		Series:   make(Series, 0, len(grid)),
	}

	clean := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Timestamp.IsZero() {
			res.Malformed++
			continue
		}
		clean = append(clean, Row{Timestamp: WallClock(r.Timestamp), Value: strings.TrimSpace(r.Value)})
	}

	i := 0
	for _, ts := range grid {
		emitted := false
		for i < len(clean) {
			rts := clean[i].Timestamp
			if rts.Before(ts) {
				res.Extra++
				i++
				continue
			}
			if rts.Equal(ts) {
				res.Series = append(res.Series, Row{Timestamp: ts, Value: clean[i].Value})
				emitted = true
				i++
			}
			break
		}
		if !emitted {
			res.Series = append(res.Series, Row{Timestamp: ts})
		}
	}
	res.Extra += len(clean) - i

	return res
}

// MissingSeries returns an all-missing series of grid length.
func MissingSeries(grid Grid) Series {
	s := make(Series, len(grid))
	for i, ts := range grid {
		s[i] = Row{Timestamp: ts}
	}
	return s
}

// SortRows orders rows by timestamp and drops later duplicates of a timestamp.
func SortRows(rows []Row) []Row {
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].Timestamp.Before(rows[b].Timestamp)
	})
	out := rows[:0]
	for i, r := range rows {
		if i > 0 && r.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, r)
	}
	return out
}
