package hydro

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ApplyDeltaOverlay rewrites the columns of table pairwise. With overlay set each
// (primary, secondary) pair collapses into one column taking primary where it
// has a value and secondary otherwise. With delta set a primary-minus-secondary
// column is appended after the pair's output. A trailing odd column passes
// through as normal and yields a warning.
func ApplyDeltaOverlay(table *Table, overlay, delta bool) []string {
	if !overlay && !delta {
		return nil
	}

	var warnings []string
	in := table.Columns
	out := make([]Column, 0, len(in)+len(in)/2)

	pair := 0
	for i := 0; i+1 < len(in); i += 2 {
		primary, secondary := in[i], in[i+1]
		if overlay {
			out = append(out, overlayColumn(primary, secondary, pair))
		} else {
			p, s := primary, secondary
			p.Meta.PairIndex, s.Meta.PairIndex = pair, pair
			out = append(out, p, s)
		}
		if delta {
			out = append(out, deltaColumn(primary, secondary, pair))
		}
		pair++
	}

	if len(in)%2 == 1 {
		last := in[len(in)-1]
		last.Meta.Kind = ColumnNormal
		last.Meta.PairIndex = -1
		out = append(out, last)
		warnings = append(warnings, fmt.Sprintf("odd column count %d: %q left unpaired", len(in), last.Label))
	}

	table.Columns = out
	return warnings
}

func pairMeta(kind ColumnKind, a, b Column, pair int) ColumnMetadata {
	return ColumnMetadata{
		Kind:      kind,
		DataIDs:   append(append([]string{}, a.Meta.DataIDs...), b.Meta.DataIDs...),
		Sources:   append(append([]Source{}, a.Meta.Sources...), b.Meta.Sources...),
		QueryInfo: append(append([]string{}, a.Meta.QueryInfo...), b.Meta.QueryInfo...),
		PairIndex: pair,
	}
}

func overlayColumn(a, b Column, pair int) Column {
	col := Column{
		Meta:     pairMeta(ColumnOverlay, a, b, pair),
		LookupID: a.LookupID,
		Label:    "Overlay: " + a.Label + " / " + b.Label,
		Values:   make([]string, len(a.Values)),
		Flags:    make([]Flag, len(a.Values)),
	}
	for r := range a.Values {
		switch {
		case strings.TrimSpace(a.Values[r]) != "":
			col.Values[r] = a.Values[r]
			col.Flags[r] = flagAt(a, r)
		case r < len(b.Values):
			col.Values[r] = b.Values[r]
			col.Flags[r] = flagAt(b, r)
		}
	}
	return col
}

func deltaColumn(a, b Column, pair int) Column {
	col := Column{
		Meta:   pairMeta(ColumnDelta, a, b, pair),
		Label:  "Delta: " + a.Label + " - " + b.Label,
		Values: make([]string, len(a.Values)),
		Flags:  make([]Flag, len(a.Values)),
	}
	for r := range a.Values {
		if r >= len(b.Values) {
			continue
		}
		x, errA := decimal.NewFromString(strings.TrimSpace(a.Values[r]))
		y, errB := decimal.NewFromString(strings.TrimSpace(b.Values[r]))
		if errA != nil || errB != nil {
			continue
		}
		col.Values[r] = x.Sub(y).String()
	}
	return col
}

func flagAt(c Column, r int) Flag {
	if r < len(c.Flags) {
		return c.Flags[r]
	}
	return FlagNone
}
