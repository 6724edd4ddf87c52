package hydro

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the textual form of a grid timestamp. Seconds are always zero.
const TimestampLayout = "01/02/06 15:04:05"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses the TimestampLayout form into a naive wall-clock time.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.Truncate(time.Minute), nil
}

// WallClock drops the zone of t and keeps its wall-clock fields at minute
// resolution. All grid and row timestamps are wall-clock values stored in UTC.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// Source names the remote system a request item is read from.
type Source string

const (
	SourceUSBRLC   Source = "USBR-LCHDB"
	SourceUSBRYAO  Source = "USBR-YAOHDB"
	SourceUSBRUC   Source = "USBR-UCHDB2"
	SourceUSBRECO  Source = "USBR-ECOHDB"
	SourceUSBRKBO  Source = "USBR-KBOHDB"
	SourceUSGS     Source = "USGS-NWIS"
	SourceAquarius Source = "AQUARIUS"
)

// Family groups source variants that share one adapter.
type Family string

const (
	FamilyUSBR     Family = "USBR"
	FamilyUSGS     Family = "USGS"
	FamilyAquarius Family = "AQUARIUS"
)

// ParseSource normalizes a user supplied source name.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToUpper(strings.TrimSpace(s)))
	switch src {
	case SourceUSBRLC, SourceUSBRYAO, SourceUSBRUC, SourceUSBRECO, SourceUSBRKBO,
		SourceUSGS, SourceAquarius:
		return src, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Family returns the adapter family the source belongs to.
func (s Source) Family() Family {
	switch {
	case strings.HasPrefix(string(s), "USBR"):
		return FamilyUSBR
	case s == SourceUSGS:
		return FamilyUSGS
	case s == SourceAquarius:
		return FamilyAquarius
	}
	return Family(s)
}

// RequiresInternal reports whether the source is only reachable in
// authenticated (internal) mode.
func (s Source) RequiresInternal() bool {
	return s.Family() == FamilyAquarius
}

// Variant is the source-specific server selector handed to the adapter
// (e.g. "lchdb" for USBR-LCHDB).
func (s Source) Variant() string {
	if s.Family() == FamilyUSBR {
		return strings.ToLower(strings.TrimPrefix(string(s), "USBR-"))
	}
	return strings.ToLower(string(s))
}

// RequestItem names one series, one sampling interval and one source.
// Position preserves the user's column order and must be unique within a query.
type RequestItem struct {
	DataID   string   `json:"dataId"`
	Interval Interval `json:"interval"`
	Source   Source   `json:"source"`
	SubID    string   `json:"subId,omitempty"`
	Position int      `json:"position"`
}

// NewRequestItem builds an item and splits the source-specific modifier suffix
// of dataID into SubID.
func NewRequestItem(dataID string, iv Interval, src Source, position int) RequestItem {
	item := RequestItem{
		DataID:   strings.TrimSpace(dataID),
		Interval: iv,
		Source:   src,
		Position: position,
	}
	_, item.SubID = SplitSubID(item.DataID, src)
	return item
}

// SplitSubID separates the modifier suffix from a data id. Only USBR ids carry
// one ("1930-M" selects the M table); USGS ids use dashes structurally.
func SplitSubID(dataID string, src Source) (base, sub string) {
	if src.Family() != FamilyUSBR {
		return dataID, ""
	}
	if i := strings.LastIndex(dataID, "-"); i > 0 && i < len(dataID)-1 {
		return dataID[:i], dataID[i+1:]
	}
	return dataID, ""
}

// BaseID is the data id without its modifier suffix.
func (r RequestItem) BaseID() string {
	base, _ := SplitSubID(r.DataID, r.Source)
	return base
}

// LookupID is the catalog key for the item.
func (r RequestItem) LookupID() string {
	return r.BaseID()
}

// Key identifies the item's column in the merge dictionary.
func (r RequestItem) Key() string {
	return string(r.Source) + "|" + r.DataID + "|" + string(r.Interval)
}

// QueryInfo is the provenance string recorded in column metadata.
func (r RequestItem) QueryInfo() string {
	return r.DataID + "|" + string(r.Interval) + "|" + string(r.Source)
}

// Row is one (timestamp, value) pair as produced by an adapter. An empty Value
// means missing.
type Row struct {
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
}

// Series is an ordered run of rows for one identified measurement.
type Series []Row

// Values returns the value strings in row order.
func (s Series) Values() []string {
	out := make([]string, len(s))
	for i, row := range s {
		out[i] = row.Value
	}
	return out
}

// Flag is the QAQC annotation of one cell.
type Flag int

const (
	FlagNone Flag = iota
	FlagMissing
	FlagExpectedLow
	FlagExpectedHigh
	FlagCutoffLow
	FlagCutoffHigh
	FlagRateOfChange
	FlagRepeat
)

var flagNames = [...]string{
	FlagNone:         "none",
	FlagMissing:      "missing",
	FlagExpectedLow:  "expected_low",
	FlagExpectedHigh: "expected_high",
	FlagCutoffLow:    "cutoff_low",
	FlagCutoffHigh:   "cutoff_high",
	FlagRateOfChange: "rate_of_change",
	FlagRepeat:       "repeat",
}

func (f Flag) String() string {
	if int(f) >= 0 && int(f) < len(flagNames) {
		return flagNames[f]
	}
	return fmt.Sprintf("flag(%d)", int(f))
}

// MarshalText renders the flag name in JSON and CSV output.
func (f Flag) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ColumnKind distinguishes pass-through columns from computed ones.
type ColumnKind string

const (
	ColumnNormal  ColumnKind = "normal"
	ColumnOverlay ColumnKind = "overlay"
	ColumnDelta   ColumnKind = "delta"
)

// ColumnMetadata describes the provenance of one output column.
type ColumnMetadata struct {
	Kind      ColumnKind `json:"kind"`
	DataIDs   []string   `json:"dataIds"`
	Sources   []Source   `json:"sources"`
	QueryInfo []string   `json:"queryInfo"`
	PairIndex int        `json:"pairIndex"`
}

// Column holds one output column. Values and Flags have one entry per grid row.
type Column struct {
	Meta     ColumnMetadata `json:"meta"`
	LookupID string         `json:"lookupId,omitempty"`
	Label    string         `json:"label"`
	Values   []string       `json:"values"`
	Flags    []Flag         `json:"flags"`
}

// Table is the aligned result: rows by grid position, columns by request order.
type Table struct {
	Timestamps []time.Time `json:"timestamps"`
	Columns    []Column    `json:"columns"`
}

// Rows returns the number of grid rows.
func (t *Table) Rows() int {
	return len(t.Timestamps)
}

// Metadata returns the per-column provenance records.
func (t *Table) Metadata() []ColumnMetadata {
	out := make([]ColumnMetadata, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Meta
	}
	return out
}

// Labels returns the column header labels.
func (t *Table) Labels() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Label
	}
	return out
}

// Permute reorders the rows of the table. perm[i] is the source row of row i.
func (t *Table) Permute(perm []int) {
	if len(perm) != len(t.Timestamps) {
		return
	}
	ts := make([]time.Time, len(perm))
	for i, p := range perm {
		ts[i] = t.Timestamps[p]
	}
	t.Timestamps = ts
	for ci := range t.Columns {
		col := &t.Columns[ci]
		vals := make([]string, len(perm))
		flags := make([]Flag, len(perm))
		for i, p := range perm {
			vals[i] = col.Values[p]
			if p < len(col.Flags) {
				flags[i] = col.Flags[p]
			}
		}
		col.Values = vals
		col.Flags = flags
	}
}

// Bounds are the optional quality limits of a catalog entry.
type Bounds struct {
	ExpectedMin  *float64 `json:"expectedMin,omitempty"`
	ExpectedMax  *float64 `json:"expectedMax,omitempty"`
	CutoffMin    *float64 `json:"cutoffMin,omitempty"`
	CutoffMax    *float64 `json:"cutoffMax,omitempty"`
	RateOfChange *float64 `json:"rateOfChange,omitempty"`
}

// CatalogEntry is the data dictionary record for one lookup id.
type CatalogEntry struct {
	ID     string `json:"id"`
	Site   string `json:"site,omitempty"`
	Label  string `json:"label,omitempty"`
	Bounds Bounds `json:"bounds"`
}

// Catalog resolves lookup ids to entries.
type Catalog interface {
	Lookup(id string) (CatalogEntry, bool)
}
