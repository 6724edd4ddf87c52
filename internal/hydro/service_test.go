package hydro

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/hydro-data-aggregation/internal/queryregistry"
)

// stubAdapter answers every requested id with one value per hour of the
// window, taken from values[id]. With fail set every call errors; with err set
// calls return the rows they have together with err.
type stubAdapter struct {
	name   string
	values map[string]string
	fail   bool
	err    error

	mu       sync.Mutex
	requests []FetchRequest
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(_ context.Context, req FetchRequest) (map[string][]Row, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	if a.fail {
		return nil, errors.New("upstream unavailable")
	}
	out := make(map[string][]Row)
	for _, id := range req.SeriesIDs {
		v, ok := a.values[id]
		if !ok {
			continue
		}
		var rows []Row
		for ts := req.Start; ts.Before(req.End); ts = ts.Add(time.Hour) {
			rows = append(rows, Row{Timestamp: ts, Value: v})
		}
		out[id] = rows
	}
	return out, a.err
}

func (a *stubAdapter) seen() []FetchRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]FetchRequest(nil), a.requests...)
}

// blockingAdapter waits for its context and reports when it has started.
type blockingAdapter struct {
	started chan struct{}
	once    sync.Once
}

func (a *blockingAdapter) Name() string { return "blocking" }

func (a *blockingAdapter) Fetch(ctx context.Context, _ FetchRequest) (map[string][]Row, error) {
	a.once.Do(func() { close(a.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

var (
	windowStart = at(2025, 3, 1, 0, 0)
	windowEnd   = at(2025, 3, 1, 3, 0)
)

func newTestService(adapters map[Family]Adapter, cat Catalog, opts Options) *Service {
	return NewService(adapters, cat, nil, opts, zerolog.Nop())
}

func TestExecuteOrdersColumnsByPosition(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1079.5", "1863": "3.25"}}
	usgs := &stubAdapter{name: "usgs", values: map[string]string{"09380000": "12000"}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr, FamilyUSGS: usgs}, nil, Options{RawData: true})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("09380000", IntervalHour, SourceUSGS, 2),
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0),
			NewRequestItem("1863", IntervalHour, SourceUSBRLC, 1),
		},
		Start: windowStart,
		End:   windowEnd,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.QueryID)

	table := res.Table
	assert.Equal(t, 3, table.Rows())
	assert.Equal(t, []string{"1930", "1863", "09380000"}, table.Labels())
	assert.Equal(t, []string{"1079.5", "1079.5", "1079.5"}, table.Columns[0].Values)
	assert.Equal(t, []string{"12000", "12000", "12000"}, table.Columns[2].Values)
	assert.Equal(t, []string{"1930|HOUR|USBR-LCHDB"}, table.Columns[0].Meta.QueryInfo)

	// Both USBR ids share one adapter call.
	require.Len(t, usbr.seen(), 1)
	assert.ElementsMatch(t, []string{"1930", "1863"}, usbr.seen()[0].SeriesIDs)
}

func TestExecuteMissingAndFailedSeries(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1"}}
	usgs := &stubAdapter{name: "usgs", fail: true}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr, FamilyUSGS: usgs}, nil, Options{RawData: true})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0),
			NewRequestItem("9999", IntervalHour, SourceUSBRLC, 1),
			NewRequestItem("09380000", IntervalHour, SourceUSGS, 2),
		},
		Start: windowStart,
		End:   windowEnd,
	})
	require.NoError(t, err)
	require.Len(t, res.Table.Columns, 3)
	assert.Equal(t, []string{"", "", ""}, res.Table.Columns[1].Values)
	assert.Equal(t, []string{"", "", ""}, res.Table.Columns[2].Values)
}

func TestExecuteKeepsRowsReturnedWithError(t *testing.T) {
	usbr := &stubAdapter{
		name:   "usbr",
		values: map[string]string{"1930": "5"},
		err:    errors.New("usbr: 1 of 2 batches failed"),
	}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr}, nil, Options{RawData: true})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0),
			NewRequestItem("1863", IntervalHour, SourceUSBRLC, 1),
		},
		Start: windowStart,
		End:   windowEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "5", "5"}, res.Table.Columns[0].Values)
	assert.Equal(t, []string{"", "", ""}, res.Table.Columns[1].Values)
}

func TestExecuteRejectsDuplicatePositions(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1", "1863": "2"}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr}, nil, Options{RawData: true})

	_, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 1),
			NewRequestItem("1863", IntervalHour, SourceUSBRLC, 1),
		},
		Start: windowStart,
		End:   windowEnd,
	})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "position 1")
	assert.Empty(t, usbr.seen())
}

func TestExecuteFiltersInternalOnlySources(t *testing.T) {
	aq := &stubAdapter{name: "aquarius", values: map[string]string{"Stage.Primary@09380000": "2"}}
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1"}}
	svc := newTestService(map[Family]Adapter{FamilyAquarius: aq, FamilyUSBR: usbr}, nil, Options{RawData: true})

	_, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{NewRequestItem("Stage.Primary@09380000", IntervalHour, SourceAquarius, 0)},
		Start: windowStart,
		End:   windowEnd,
	})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Empty(t, aq.seen())

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("Stage.Primary@09380000", IntervalHour, SourceAquarius, 0),
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 1),
		},
		Start: windowStart,
		End:   windowEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1930"}, res.Table.Labels())

	res, err = svc.Execute(context.Background(), Query{
		Items:    []RequestItem{NewRequestItem("Stage.Primary@09380000", IntervalHour, SourceAquarius, 0)},
		Start:    windowStart,
		End:      windowEnd,
		Internal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "2", "2"}, res.Table.Columns[0].Values)
}

func TestExecuteNormalizesInstant(t *testing.T) {
	usgs := &stubAdapter{name: "usgs", values: map[string]string{}}
	svc := newTestService(map[Family]Adapter{FamilyUSGS: usgs}, nil, Options{})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{NewRequestItem("09380000", IntervalInstant, SourceUSGS, 0)},
		Start: windowStart,
		End:   at(2025, 3, 1, 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Table.Rows())
	require.Len(t, usgs.seen(), 1)
	assert.Equal(t, IntervalInstant15, usgs.seen()[0].Interval)
}

func TestExecuteSplitsCallsBySubID(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "5"}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr}, nil, Options{RawData: true})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0),
			NewRequestItem("1930-M", IntervalHour, SourceUSBRLC, 1),
		},
		Start: windowStart,
		End:   windowEnd,
	})
	require.NoError(t, err)
	require.Len(t, usbr.seen(), 2)
	subs := []string{usbr.seen()[0].SubID, usbr.seen()[1].SubID}
	assert.ElementsMatch(t, []string{"", "M"}, subs)
	assert.Equal(t, []string{"1930", "1930-M"}, res.Table.Labels())
}

func TestExecuteLabelsAnnotatesAndRounds(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1079.456"}}
	cat := mapCatalog{"1930": {ID: "1930", Label: "Lake Mead Elevation", Bounds: Bounds{ExpectedMax: fp(1075)}}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr}, cat, Options{QAQC: true})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0)},
		Start: windowStart,
		End:   windowEnd,
	})
	require.NoError(t, err)
	c := res.Table.Columns[0]
	assert.Equal(t, "Lake Mead Elevation", c.Label)
	assert.Equal(t, []string{"1079.5", "1079.5", "1079.5"}, c.Values)
	assert.Equal(t, []Flag{FlagExpectedHigh, FlagRepeat, FlagRepeat}, c.Flags)
}

func TestExecuteOverlayWarnsOnOddColumns(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1": "1", "2": "2", "3": "3"}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr}, nil, Options{RawData: true})

	res, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("1", IntervalHour, SourceUSBRLC, 0),
			NewRequestItem("2", IntervalHour, SourceUSBRLC, 1),
			NewRequestItem("3", IntervalHour, SourceUSBRLC, 2),
		},
		Start:   windowStart,
		End:     windowEnd,
		Overlay: true,
		Delta:   true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
	require.Len(t, res.Table.Columns, 3)
	assert.Equal(t, ColumnOverlay, res.Table.Columns[0].Meta.Kind)
	assert.Equal(t, []string{"-1", "-1", "-1"}, res.Table.Columns[1].Values)
}

func TestExecuteRoutesInternalUSBRToSQL(t *testing.T) {
	web := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1"}}
	sql := &stubAdapter{name: "usbr-sql", values: map[string]string{"1930": "2"}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: web}, nil, Options{RawData: true})
	svc.UseSQL(sql)

	q := Query{
		Items: []RequestItem{NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0)},
		Start: windowStart,
		End:   windowEnd,
	}
	res, err := svc.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Table.Columns[0].Values[0])

	q.Internal = true
	res, err = svc.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Table.Columns[0].Values[0])
}

func TestExecuteReportsProgress(t *testing.T) {
	usbr := &stubAdapter{name: "usbr", values: map[string]string{"1930": "1"}}
	usgs := &stubAdapter{name: "usgs", values: map[string]string{}}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr, FamilyUSGS: usgs}, nil, Options{})

	var mu sync.Mutex
	var updates []Progress
	_, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{
			NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0),
			NewRequestItem("09380000", IntervalHour, SourceUSGS, 1),
		},
		Start: windowStart,
		End:   windowEnd,
		Progress: func(p Progress) {
			mu.Lock()
			updates = append(updates, p)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, 2, last.GroupsDone)
	assert.Equal(t, 2, last.GroupsTotal)
	assert.NotEmpty(t, last.QueryID)
}

func TestExecuteCancel(t *testing.T) {
	block := &blockingAdapter{started: make(chan struct{})}
	reg := queryregistry.New(10, zerolog.Nop())
	svc := NewService(map[Family]Adapter{FamilyUSBR: block}, nil, reg, Options{}, zerolog.Nop())

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), Query{
			Items: []RequestItem{NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0)},
			Start: windowStart,
			End:   windowEnd,
		})
		errc <- err
	}()

	<-block.started
	active := reg.Active()
	require.Len(t, active, 1)
	require.True(t, svc.Cancel(active[0].ID))

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrCanceled))
	case <-time.After(5 * time.Second):
		t.Fatal("query did not stop after cancel")
	}
	history := reg.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, queryregistry.StatusCanceled, history[0].Status)
	assert.Zero(t, reg.ActiveCount())
}

func TestExecuteTimeout(t *testing.T) {
	block := &blockingAdapter{started: make(chan struct{})}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: block}, nil, Options{Timeout: 50 * time.Millisecond})

	_, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0)},
		Start: windowStart,
		End:   windowEnd,
	})
	assert.True(t, errors.Is(err, ErrTimedOut))
	assert.Equal(t, queryregistry.StatusTimedOut, svc.Registry().History(1)[0].Status)
}

func TestExecuteRejectsBadWindow(t *testing.T) {
	usbr := &stubAdapter{name: "usbr"}
	svc := newTestService(map[Family]Adapter{FamilyUSBR: usbr}, nil, Options{})

	_, err := svc.Execute(context.Background(), Query{
		Items: []RequestItem{NewRequestItem("1930", IntervalHour, SourceUSBRLC, 0)},
		Start: windowEnd,
		End:   windowStart,
	})
	assert.True(t, errors.Is(err, ErrInvertedWindow))
	assert.Empty(t, usbr.seen())
}
