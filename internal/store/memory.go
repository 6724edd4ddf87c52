package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
)

var (
	// ErrNotFound is returned when no watch result is held for a quick-look.
	ErrNotFound = errors.New("no watch result for quick-look")
)

// Snapshot is the outcome of one scheduled replay of a quick-look.
type Snapshot struct {
	QuickLook string       `json:"quickLook"`
	QueryID   string       `json:"queryId,omitempty"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	FetchedAt time.Time    `json:"fetchedAt"`
	Table     *hydro.Table `json:"table,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// SnapshotHistory holds a time-ordered list of snapshots for one quick-look.
type SnapshotHistory struct {
	Snapshots []Snapshot
}

// MemoryStore is a concurrency-safe, bounded, in-memory store of recent watch
// results. Nothing is written to disk.
type MemoryStore struct {
	mu sync.RWMutex

	// key: quick-look name
	data map[string]*SnapshotHistory

	maxHistory int
	maxAge     time.Duration
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*SnapshotHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveSnapshot appends a snapshot and enforces retention.
func (s *MemoryStore) SaveSnapshot(snapshot Snapshot) {
	if snapshot.FetchedAt.IsZero() {
		snapshot.FetchedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[snapshot.QuickLook]
	if !ok {
		history = &SnapshotHistory{}
		s.data[snapshot.QuickLook] = history
	}
	history.Snapshots = append(history.Snapshots, snapshot)

	if s.maxHistory > 0 && len(history.Snapshots) > s.maxHistory {
		over := len(history.Snapshots) - s.maxHistory
		history.Snapshots = history.Snapshots[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Snapshots); i++ {
			if !history.Snapshots[i].FetchedAt.Before(cutoff) {
				break
			}
		}
		history.Snapshots = history.Snapshots[i:]
	}
}

// GetLatest returns the most recent snapshot for name.
func (s *MemoryStore) GetLatest(name string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[name]
	if !ok || len(history.Snapshots) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return history.Snapshots[len(history.Snapshots)-1], nil
}

// GetRange returns snapshots fetched between from and to (inclusive).
func (s *MemoryStore) GetRange(name string, from, to time.Time) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[name]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []Snapshot
	for _, snap := range history.Snapshots {
		if !snap.FetchedAt.Before(from) && !snap.FetchedAt.After(to) {
			result = append(result, snap)
		}
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Names lists the quick-looks with at least one held result.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data))
	for name, h := range s.data {
		if len(h.Snapshots) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
