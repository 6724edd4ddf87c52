package hydro

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// AnnotateOptions controls one annotation pass.
type AnnotateOptions struct {
	// Enabled false clears every flag.
	Enabled bool
	// Now is the wall clock used to decide whether an empty cell is in the future.
	Now time.Time
}

// Annotate sets the QAQC flag of every cell. lookupIDs[c] is the catalog key of
// column c; columns without a catalog entry are left unflagged. Annotate performs
// no I/O and recomputes all flags from the values, so repeated runs agree.
func Annotate(table *Table, catalog Catalog, lookupIDs []string, opts AnnotateOptions) {
	now := WallClock(opts.Now)
	for c := range table.Columns {
		col := &table.Columns[c]
		col.Flags = make([]Flag, len(col.Values))
		if !opts.Enabled || catalog == nil || c >= len(lookupIDs) {
			continue
		}
		entry, ok := catalog.Lookup(lookupIDs[c])
		if !ok {
			continue
		}
		annotateColumn(col, table.Timestamps, entry.Bounds, now)
	}
}

func annotateColumn(col *Column, timestamps []time.Time, b Bounds, now time.Time) {
	var (
		prev    float64
		hasPrev bool
	)
	for r, raw := range col.Values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			if r < len(timestamps) && !timestamps[r].After(now) {
				col.Flags[r] = FlagMissing
			}
			hasPrev = false
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) {
			hasPrev = false
			continue
		}

		flag := boundsFlag(v, b)
		if hasPrev && b.RateOfChange != nil && math.Abs(v-prev) > *b.RateOfChange {
			flag = FlagRateOfChange
		}
		if hasPrev && v == prev {
			flag = FlagRepeat
		}
		col.Flags[r] = flag

		prev, hasPrev = v, true
	}
}

// boundsFlag applies the cutoff limits before the expected limits; the first
// violated limit wins.
func boundsFlag(v float64, b Bounds) Flag {
	switch {
	case b.CutoffMin != nil && v < *b.CutoffMin:
		return FlagCutoffLow
	case b.CutoffMax != nil && v > *b.CutoffMax:
		return FlagCutoffHigh
	case b.ExpectedMin != nil && v < *b.ExpectedMin:
		return FlagExpectedLow
	case b.ExpectedMax != nil && v > *b.ExpectedMax:
		return FlagExpectedHigh
	}
	return FlagNone
}
