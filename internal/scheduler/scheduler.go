package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
	"github.com/i474232898/hydro-data-aggregation/internal/store"
)

// Runner executes a composite query.
type Runner interface {
	Execute(ctx context.Context, q hydro.Query) (*hydro.Result, error)
}

// Loader resolves a quick-look name to its request items.
type Loader interface {
	Load(name string) ([]hydro.RequestItem, error)
}

// Config selects which quick-looks are watched and how.
type Config struct {
	QuickLooks []string
	Interval   time.Duration
	Window     time.Duration
	Internal   bool
	Timeout    time.Duration
}

// Scheduler periodically replays quick-looks over a trailing window and keeps
// the latest results in memory.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	loader    Loader
	store     *store.MemoryStore
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a new Scheduler.
func New(cfg Config, runner Runner, loader Loader, st *store.MemoryStore, logger zerolog.Logger) *Scheduler {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		loader:    loader,
		store:     st,
		cfg:       cfg,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.cfg.QuickLooks) == 0 {
		s.logger.Info().Msg("No quick-looks to watch; nothing to schedule")
		return nil
	}

	minutes := int(s.cfg.Interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info().
		Strs("quicklooks", s.cfg.QuickLooks).
		Int("every_minutes", minutes).
		Dur("window", s.cfg.Window).
		Msg("Watch scheduler started")
	return nil
}

// RunOnce replays every watched quick-look and waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Debug().Msg("Running watch job")

	end := hydro.WallClock(s.now())
	start := end.Add(-s.cfg.Window)

	var wg sync.WaitGroup
	for _, name := range s.cfg.QuickLooks {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.store.SaveSnapshot(s.replay(ctx, name, start, end))
		}()
	}
	wg.Wait()

	s.logger.Debug().Msg("Completed watch job")
}

func (s *Scheduler) replay(ctx context.Context, name string, start, end time.Time) store.Snapshot {
	snap := store.Snapshot{QuickLook: name, Start: start, End: end}

	items, err := s.loader.Load(name)
	if err != nil {
		s.logger.Warn().Err(err).Str("quicklook", name).Msg("Failed to load watched quick-look")
		snap.Error = err.Error()
		return snap
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.runner.Execute(ctx, hydro.Query{
		Items:    items,
		Start:    start,
		End:      end,
		Internal: s.cfg.Internal,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("quicklook", name).Msg("Watch query failed")
		snap.Error = err.Error()
		return snap
	}

	snap.QueryID = res.QueryID
	snap.Table = res.Table
	snap.Warnings = res.Warnings
	return snap
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
