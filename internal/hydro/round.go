package hydro

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	thousand    = decimal.NewFromInt(1000)
	tenThousand = decimal.NewFromInt(10000)
)

// RoundValue applies display rounding: magnitudes below 1000 keep two decimals,
// below 10000 one, larger values none. Non-numeric strings are returned as is.
func RoundValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	abs := d.Abs()
	var places int32
	switch {
	case abs.LessThan(thousand):
		places = 2
	case abs.LessThan(tenThousand):
		places = 1
	}
	return d.StringFixed(places)
}

// RoundTable rounds every cell of the table in place.
func RoundTable(table *Table) {
	for c := range table.Columns {
		vals := table.Columns[c].Values
		for r := range vals {
			vals[r] = RoundValue(vals[r])
		}
	}
}
