package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
	"github.com/i474232898/hydro-data-aggregation/internal/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	queries []hydro.Query
	err     error
}

func (f *fakeRunner) Execute(_ context.Context, q hydro.Query) (*hydro.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return &hydro.Result{QueryID: "q1", Table: &hydro.Table{Timestamps: []time.Time{q.Start}}}, nil
}

type fakeLoader map[string][]hydro.RequestItem

func (f fakeLoader) Load(name string) ([]hydro.RequestItem, error) {
	items, ok := f[name]
	if !ok {
		return nil, errors.New("quick-look not found")
	}
	return items, nil
}

func TestRunOnceStoresResults(t *testing.T) {
	runner := &fakeRunner{}
	loader := fakeLoader{
		"mead": {hydro.NewRequestItem("1930", hydro.IntervalHour, hydro.SourceUSBRLC, 0)},
	}
	st := store.NewMemoryStore(5, 0)

	s := New(Config{QuickLooks: []string{"mead", "gone"}, Window: 6 * time.Hour, Internal: true}, runner, loader, st, zerolog.Nop())
	now := time.Date(2025, 3, 1, 12, 34, 56, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.RunOnce(context.Background())

	snap, err := st.GetLatest("mead")
	require.NoError(t, err)
	assert.Equal(t, "q1", snap.QueryID)
	assert.Empty(t, snap.Error)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 34, 0, 0, time.UTC), snap.End)
	assert.Equal(t, time.Date(2025, 3, 1, 6, 34, 0, 0, time.UTC), snap.Start)

	require.Len(t, runner.queries, 1)
	assert.True(t, runner.queries[0].Internal)

	missing, err := st.GetLatest("gone")
	require.NoError(t, err)
	assert.NotEmpty(t, missing.Error)
	assert.Nil(t, missing.Table)
}

func TestRunOnceRecordsQueryFailure(t *testing.T) {
	runner := &fakeRunner{err: hydro.ErrInvalidRequest}
	loader := fakeLoader{"x": {hydro.NewRequestItem("1", hydro.IntervalDay, hydro.SourceAquarius, 0)}}
	st := store.NewMemoryStore(5, 0)

	s := New(Config{QuickLooks: []string{"x"}}, runner, loader, st, zerolog.Nop())
	s.RunOnce(context.Background())

	snap, err := st.GetLatest("x")
	require.NoError(t, err)
	assert.Equal(t, hydro.ErrInvalidRequest.Error(), snap.Error)
}

func TestStartWithoutQuickLooks(t *testing.T) {
	s := New(Config{}, &fakeRunner{}, fakeLoader{}, store.NewMemoryStore(1, 0), zerolog.Nop())
	require.NoError(t, s.Start())
	s.Stop()
}
