package queryregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the terminal or running status of a tracked run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Run holds the metadata of one orchestrator invocation.
type Run struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Items       int        `json:"items"`
	Status      Status     `json:"status"`
	Phase       string     `json:"phase"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	DurationMs  int64      `json:"durationMs,omitempty"`
	Columns     int        `json:"columns,omitempty"`
	Rows        int        `json:"rows,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type activeEntry struct {
	run    *Run
	cancel context.CancelFunc
}

// Registry tracks active runs and a bounded history of finished ones.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]*activeEntry
	history  []*Run
	histSize int
	histHead int
	histLen  int
	logger   zerolog.Logger
}

// New creates a registry keeping historySize finished runs (default 100).
func New(historySize int, logger zerolog.Logger) *Registry {
	if historySize <= 0 {
		historySize = 100
	}
	return &Registry{
		active:   make(map[string]*activeEntry),
		history:  make([]*Run, historySize),
		histSize: historySize,
		logger:   logger.With().Str("component", "query-registry").Logger(),
	}
}

// Register starts tracking a run and returns its id and a context that Cancel
// will cancel.
func (r *Registry) Register(parent context.Context, description string, items int) (string, context.Context) {
	id := uuid.New().String()[:12]
	ctx, cancel := context.WithCancel(parent)

	run := &Run{
		ID:          id,
		Description: description,
		Items:       items,
		Status:      StatusRunning,
		Phase:       "idle",
		StartTime:   time.Now(),
	}

	r.mu.Lock()
	r.active[id] = &activeEntry{run: run, cancel: cancel}
	r.mu.Unlock()

	r.logger.Debug().Str("query_id", id).Int("items", items).Msg("Query registered")
	return id, ctx
}

// SetPhase records the current state-machine phase of an active run.
func (r *Registry) SetPhase(id, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[id]; ok {
		e.run.Phase = phase
	}
}

// Cancel cancels an active run. It reports whether the run was found.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	e, ok := r.active[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel()
	r.logger.Info().Str("query_id", id).Msg("Query cancel requested")
	return true
}

// Complete marks a run as successfully finished.
func (r *Registry) Complete(id string, columns, rows int) {
	r.finish(id, StatusCompleted, "", func(run *Run) {
		run.Columns = columns
		run.Rows = rows
	})
}

// Fail marks a run as finished with the given status and error.
func (r *Registry) Fail(id string, status Status, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.finish(id, status, msg, nil)
}

func (r *Registry) finish(id string, status Status, errMsg string, update func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[id]
	if !ok {
		return
	}
	now := time.Now()
	e.run.Status = status
	e.run.EndTime = &now
	e.run.DurationMs = now.Sub(e.run.StartTime).Milliseconds()
	e.run.Error = errMsg
	if update != nil {
		update(e.run)
	}
	e.cancel()
	delete(r.active, id)

	r.history[r.histHead] = e.run
	r.histHead = (r.histHead + 1) % r.histSize
	if r.histLen < r.histSize {
		r.histLen++
	}

	r.logger.Debug().
		Str("query_id", id).
		Str("status", string(status)).
		Int64("duration_ms", e.run.DurationMs).
		Msg("Query finished")
}

// Active returns copies of the active runs, oldest first.
func (r *Registry) Active() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Run, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, *e.run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// History returns up to limit finished runs, newest first. limit <= 0 means all.
func (r *Registry) History(limit int) []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.histLen {
		limit = r.histLen
	}
	out := make([]Run, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.histHead - 1 - i + r.histSize) % r.histSize
		out = append(out, *r.history[idx])
	}
	return out
}

// ActiveCount returns the number of runs in flight.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
