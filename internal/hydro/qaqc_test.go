package hydro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mapCatalog map[string]CatalogEntry

func (m mapCatalog) Lookup(id string) (CatalogEntry, bool) {
	e, ok := m[id]
	return e, ok
}

func fp(v float64) *float64 { return &v }

func singleColumn(values ...string) *Table {
	ts := make([]time.Time, len(values))
	for i := range values {
		ts[i] = at(2025, 3, 1, i, 0)
	}
	return &Table{
		Timestamps: ts,
		Columns:    []Column{{LookupID: "s", Values: values}},
	}
}

var past = AnnotateOptions{Enabled: true, Now: at(2030, 1, 1, 0, 0)}

func TestAnnotateBounds(t *testing.T) {
	table := singleColumn("1.0", "5.0", "50.0", "500.0")
	cat := mapCatalog{"s": {ID: "s", Bounds: Bounds{ExpectedMax: fp(10), CutoffMax: fp(100)}}}

	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, []Flag{FlagNone, FlagNone, FlagExpectedHigh, FlagCutoffHigh}, table.Columns[0].Flags)
}

func TestAnnotateLowBounds(t *testing.T) {
	table := singleColumn("-5", "5", "50")
	cat := mapCatalog{"s": {Bounds: Bounds{CutoffMin: fp(0), ExpectedMin: fp(10)}}}

	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, []Flag{FlagCutoffLow, FlagExpectedLow, FlagNone}, table.Columns[0].Flags)
}

func TestAnnotateRateOfChangeOverridesBounds(t *testing.T) {
	table := singleColumn("8.0", "9.5")
	cat := mapCatalog{"s": {Bounds: Bounds{ExpectedMax: fp(9), RateOfChange: fp(1.0)}}}

	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, FlagRateOfChange, table.Columns[0].Flags[1])
}

func TestAnnotateRepeatOverridesAll(t *testing.T) {
	table := singleColumn("500", "500")
	cat := mapCatalog{"s": {Bounds: Bounds{CutoffMax: fp(100), RateOfChange: fp(0)}}}

	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, []Flag{FlagCutoffHigh, FlagRepeat}, table.Columns[0].Flags)
}

func TestAnnotateMissingAndFuture(t *testing.T) {
	table := singleColumn("1", "", "abc", "")
	cat := mapCatalog{"s": {}}
	opts := AnnotateOptions{Enabled: true, Now: at(2025, 3, 1, 2, 0)}

	Annotate(table, cat, []string{"s"}, opts)
	// Row 3 is after Now and stays unflagged; the unparsable cell is left alone.
	assert.Equal(t, []Flag{FlagNone, FlagMissing, FlagNone, FlagNone}, table.Columns[0].Flags)
}

func TestAnnotateGapResetsPrevious(t *testing.T) {
	table := singleColumn("5", "", "5")
	cat := mapCatalog{"s": {Bounds: Bounds{RateOfChange: fp(1)}}}

	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, []Flag{FlagNone, FlagMissing, FlagNone}, table.Columns[0].Flags)
}

func TestAnnotateSkipsUncataloguedAndDisabled(t *testing.T) {
	table := singleColumn("", "1")
	Annotate(table, mapCatalog{}, []string{"s"}, past)
	assert.Equal(t, []Flag{FlagNone, FlagNone}, table.Columns[0].Flags)

	cat := mapCatalog{"s": {Bounds: Bounds{ExpectedMax: fp(0)}}}
	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, FlagExpectedHigh, table.Columns[0].Flags[1])

	Annotate(table, cat, []string{"s"}, AnnotateOptions{Enabled: false, Now: past.Now})
	assert.Equal(t, []Flag{FlagNone, FlagNone}, table.Columns[0].Flags)
}

func TestAnnotateIsDeterministic(t *testing.T) {
	table := singleColumn("1", "3", "3", "", "20", "-1")
	cat := mapCatalog{"s": {Bounds: Bounds{ExpectedMin: fp(0), ExpectedMax: fp(10), RateOfChange: fp(5)}}}

	Annotate(table, cat, []string{"s"}, past)
	first := append([]Flag(nil), table.Columns[0].Flags...)
	Annotate(table, cat, []string{"s"}, past)
	assert.Equal(t, first, table.Columns[0].Flags)
	assert.Equal(t, []Flag{FlagNone, FlagNone, FlagRepeat, FlagMissing, FlagExpectedHigh, FlagRateOfChange}, first)
}

func TestFlagText(t *testing.T) {
	b, err := FlagRateOfChange.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "rate_of_change", string(b))
	assert.Equal(t, "flag(99)", Flag(99).String())
}
