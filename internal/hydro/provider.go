package hydro

import (
	"context"
	"time"
)

// FetchRequest is one adapter call: a set of series sharing a source variant,
// interval and modifier.
type FetchRequest struct {
	Variant   string
	SeriesIDs []string
	SubID     string
	Start     time.Time
	End       time.Time
	Interval  Interval
	// Progress, when set, receives sub-range progress from adapters that split
	// their window. It may be called from several goroutines.
	Progress ProgressFunc
}

// Adapter abstracts one source family (USBR HDB, USGS NWIS, Aquarius, ...).
// Fetch returns series id -> rows ordered by timestamp without duplicates.
// Series that could not be read are simply absent from the map. On error the
// map may still hold the series read before the failure.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) (map[string][]Row, error)
}

// Progress reports how far a run has come.
type Progress struct {
	QueryID     string `json:"queryId"`
	GroupsDone  int    `json:"groupsDone"`
	GroupsTotal int    `json:"groupsTotal"`
	Source      string `json:"source,omitempty"`
	SubDone     int    `json:"subDone,omitempty"`
	SubTotal    int    `json:"subTotal,omitempty"`
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)
