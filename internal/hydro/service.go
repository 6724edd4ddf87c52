package hydro

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/hydro-data-aggregation/internal/queryregistry"
)

const (
	defaultMaxDBThreads = 3
	defaultTimeout      = 600 * time.Second
)

// Options are the process-wide knobs of the orchestrator.
type Options struct {
	MaxDBThreads int
	Timeout      time.Duration
	QAQC         bool
	RawData      bool
}

// Query is one composite request.
type Query struct {
	Items    []RequestItem
	Start    time.Time
	End      time.Time
	Internal bool
	Overlay  bool
	Delta    bool
	Progress ProgressFunc
}

// Result is the delivered table of one run. Ownership passes to the caller.
type Result struct {
	QueryID  string   `json:"queryId"`
	Table    *Table   `json:"table"`
	Warnings []string `json:"warnings,omitempty"`
}

// Service orchestrates adapters, alignment, QAQC and the column transform.
type Service struct {
	adapters map[Family]Adapter
	usbrSQL  Adapter
	catalog  Catalog
	registry *queryregistry.Registry
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(adapters map[Family]Adapter, catalog Catalog, registry *queryregistry.Registry, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxDBThreads <= 0 {
		opts.MaxDBThreads = defaultMaxDBThreads
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if registry == nil {
		registry = queryregistry.New(0, logger)
	}
	return &Service{
		adapters: adapters,
		catalog:  catalog,
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

// UseSQL routes the USBR family through a SQL adapter for internal queries.
func (s *Service) UseSQL(a Adapter) {
	s.usbrSQL = a
}

// Registry exposes the run registry for listing and cancellation.
func (s *Service) Registry() *queryregistry.Registry {
	return s.registry
}

// Cancel cancels the run with the given id.
func (s *Service) Cancel(id string) bool {
	return s.registry.Cancel(id)
}

type fetchGroup struct {
	family Family
	items  []RequestItem
}

type groupResult struct {
	family Family
	series map[string][]Row // keyed by RequestItem.Key
}

// Execute runs a composite query and returns the aligned, annotated table.
// Adapter failures yield all-missing columns; cancellation and timeout return
// ErrCanceled / ErrTimedOut with no table.
func (s *Service) Execute(ctx context.Context, q Query) (*Result, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancelTimeout()

	id, ctx := s.registry.Register(ctx, describe(q.Items), len(q.Items))
	log := s.logger.With().Str("query_id", id).Logger()
	phases := newPhaseTracker(func(p Phase) {
		s.registry.SetPhase(id, string(p))
	})

	_ = phases.to(PhasePlanning)
	items, err := s.plan(q)
	if err != nil {
		s.registry.Fail(id, queryregistry.StatusFailed, err)
		return nil, err
	}
	if len(items) == 0 {
		err := fmt.Errorf("%w: no usable request items", ErrInvalidRequest)
		s.registry.Fail(id, queryregistry.StatusFailed, err)
		return nil, err
	}

	grid, err := BuildGrid(q.Start, q.End, items[0].Interval)
	if err != nil {
		s.registry.Fail(id, queryregistry.StatusFailed, err)
		return nil, err
	}

	groups := groupItems(items)
	progress := func(p Progress) {
		p.QueryID = id
		if q.Progress != nil {
			q.Progress(p)
		}
	}

	_ = phases.to(PhaseDispatched)
	log.Info().
		Int("items", len(items)).
		Int("groups", len(groups)).
		Int("grid", len(grid)).
		Msg("Dispatching query")

	results := make(chan groupResult, len(groups))
	go func() {
		var g errgroup.Group
		g.SetLimit(s.opts.MaxDBThreads)
		for _, grp := range groups {
			grp := grp
			g.Go(func() error {
				results <- s.runGroup(ctx, grp, grid[0], WallClock(q.End), q.Internal, progress)
				return nil
			})
		}
		_ = g.Wait()
	}()
	progress(Progress{GroupsDone: 0, GroupsTotal: len(groups)})

	_ = phases.to(PhaseCollecting)
	columns := make(map[string]Series, len(items))
	for done := 0; done < len(groups); {
		select {
		case <-ctx.Done():
			return nil, s.abort(ctx, id, phases, log)
		case res := <-results:
			done++
			for key, rows := range res.series {
				aligned := Align(grid, rows, key)
				if aligned.Discarded() > 0 {
					log.Debug().
						Str("series", key).
						Int("extra", aligned.Extra).
						Int("malformed", aligned.Malformed).
						Msg("Rows discarded during alignment")
				}
				columns[key] = aligned.Series
			}
			progress(Progress{GroupsDone: done, GroupsTotal: len(groups), Source: string(res.family)})
		}
	}
	if ctx.Err() != nil {
		return nil, s.abort(ctx, id, phases, log)
	}

	_ = phases.to(PhaseMerging)
	table := s.assemble(grid, items, columns)

	_ = phases.to(PhaseAnnotating)
	lookupIDs := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		lookupIDs[i] = c.LookupID
	}
	Annotate(table, s.catalog, lookupIDs, AnnotateOptions{Enabled: s.opts.QAQC, Now: s.now()})

	_ = phases.to(PhaseTransforming)
	warnings := ApplyDeltaOverlay(table, q.Overlay, q.Delta)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	if !s.opts.RawData {
		RoundTable(table)
	}

	_ = phases.to(PhaseDone)
	s.registry.Complete(id, len(table.Columns), table.Rows())
	log.Info().Int("columns", len(table.Columns)).Int("rows", table.Rows()).Msg("Query complete")

	return &Result{QueryID: id, Table: table, Warnings: warnings}, nil
}

// plan filters items the caller may not query and normalizes intervals.
func (s *Service) plan(q Query) ([]RequestItem, error) {
	items := make([]RequestItem, 0, len(q.Items))
	positions := make(map[int]string, len(q.Items))
	for _, it := range q.Items {
		if prev, dup := positions[it.Position]; dup {
			return nil, fmt.Errorf("%w: position %d used by %s and %s", ErrInvalidRequest, it.Position, prev, it.DataID)
		}
		positions[it.Position] = it.DataID
		if it.Source.RequiresInternal() && !q.Internal {
			s.logger.Warn().
				Str("data_id", it.DataID).
				Str("source", string(it.Source)).
				Msg("Dropping item that requires internal mode")
			continue
		}
		it.Interval = NormalizeInterval(it.Interval, it.Source)
		if it.SubID == "" {
			_, it.SubID = SplitSubID(it.DataID, it.Source)
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
	return items, nil
}

// groupItems partitions items by source family, in first-seen order.
func groupItems(items []RequestItem) []fetchGroup {
	var groups []fetchGroup
	index := make(map[Family]int)
	for _, it := range items {
		f := it.Source.Family()
		i, ok := index[f]
		if !ok {
			i = len(groups)
			index[f] = i
			groups = append(groups, fetchGroup{family: f})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

func (s *Service) adapterFor(f Family, internal bool) Adapter {
	if f == FamilyUSBR && internal && s.usbrSQL != nil {
		return s.usbrSQL
	}
	return s.adapters[f]
}

type callKey struct {
	variant  string
	interval Interval
	subID    string
}

// runGroup fetches every item of one family. Work is split by (variant,
// interval, subId); the context is checked between adapter calls.
func (s *Service) runGroup(ctx context.Context, grp fetchGroup, start, end time.Time, internal bool, progress ProgressFunc) groupResult {
	res := groupResult{family: grp.family, series: make(map[string][]Row)}

	adapter := s.adapterFor(grp.family, internal)
	if adapter == nil {
		s.logger.Warn().Str("family", string(grp.family)).Msg("No adapter configured for source family")
		return res
	}

	calls := make(map[callKey][]RequestItem)
	var order []callKey
	for _, it := range grp.items {
		k := callKey{variant: it.Source.Variant(), interval: it.Interval, subID: it.SubID}
		if _, ok := calls[k]; !ok {
			order = append(order, k)
		}
		calls[k] = append(calls[k], it)
	}

	for _, k := range order {
		if ctx.Err() != nil {
			return res
		}
		items := calls[k]

		byBase := make(map[string][]RequestItem)
		var ids []string
		for _, it := range items {
			base := it.BaseID()
			if _, ok := byBase[base]; !ok {
				ids = append(ids, base)
			}
			byBase[base] = append(byBase[base], it)
		}

		req := FetchRequest{
			Variant:   k.variant,
			SeriesIDs: ids,
			SubID:     k.subID,
			Start:     start,
			End:       end,
			Interval:  k.interval,
			Progress:  progress,
		}

		rows, err := adapter.Fetch(ctx, req)
		if err != nil {
			// Adapters may hand back the series they did get before failing.
			s.logger.Warn().
				Err(err).
				Str("adapter", adapter.Name()).
				Str("variant", k.variant).
				Int("series", len(ids)).
				Int("returned", len(rows)).
				Msg("Adapter fetch failed; unreturned series treated as missing")
		}
		for base, rs := range rows {
			for _, it := range byBase[base] {
				res.series[it.Key()] = rs
			}
		}
	}
	return res
}

func (s *Service) assemble(grid Grid, items []RequestItem, columns map[string]Series) *Table {
	table := &Table{
		Timestamps: append([]time.Time(nil), grid...),
		Columns:    make([]Column, 0, len(items)),
	}
	for _, it := range items {
		series, ok := columns[it.Key()]
		if !ok {
			series = MissingSeries(grid)
		}
		values := series.Values()
		table.Columns = append(table.Columns, Column{
			Meta: ColumnMetadata{
				Kind:      ColumnNormal,
				DataIDs:   []string{it.DataID},
				Sources:   []Source{it.Source},
				QueryInfo: []string{it.QueryInfo()},
				PairIndex: -1,
			},
			LookupID: it.LookupID(),
			Label:    s.label(it),
			Values:   values,
			Flags:    make([]Flag, len(values)),
		})
	}
	return table
}

func (s *Service) label(it RequestItem) string {
	if s.catalog != nil {
		if e, ok := s.catalog.Lookup(it.LookupID()); ok && e.Label != "" {
			return e.Label
		}
	}
	return it.DataID
}

func (s *Service) abort(ctx context.Context, id string, phases *phaseTracker, log zerolog.Logger) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		_ = phases.to(PhaseTimedOut)
		s.registry.Fail(id, queryregistry.StatusTimedOut, ErrTimedOut)
		log.Warn().Dur("timeout", s.opts.Timeout).Msg("Query timed out")
		return ErrTimedOut
	}
	_ = phases.to(PhaseCanceled)
	s.registry.Fail(id, queryregistry.StatusCanceled, ErrCanceled)
	log.Info().Msg("Query canceled")
	return ErrCanceled
}

func describe(items []RequestItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.QueryInfo())
	}
	return fmt.Sprintf("%d items: %s", len(items), strings.Join(parts, ", "))
}
