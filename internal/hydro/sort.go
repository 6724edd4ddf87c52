package hydro

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// Sorter computes row permutations of a table on a background goroutine. Only
// one sort runs at a time; requests made while one is in flight are ignored.
type Sorter struct {
	busy atomic.Bool
}

// SortByColumn orders rows by the numeric value of column col. Cells that do
// not parse as numbers sort as zero. The permutation is delivered on the
// returned channel; ok is false when the request was ignored.
func (s *Sorter) SortByColumn(table *Table, col int, descending bool) (<-chan []int, bool) {
	if col < 0 || col >= len(table.Columns) {
		return nil, false
	}
	values := append([]string(nil), table.Columns[col].Values...)
	return s.run(len(values), func(a, b int) bool {
		va, vb := numericOrZero(values[a]), numericOrZero(values[b])
		if descending {
			return va > vb
		}
		return va < vb
	})
}

// SortByTimestamp orders rows by their grid timestamp ascending.
func (s *Sorter) SortByTimestamp(table *Table) (<-chan []int, bool) {
	ts := append(table.Timestamps[:0:0], table.Timestamps...)
	return s.run(len(ts), func(a, b int) bool {
		return ts[a].Before(ts[b])
	})
}

// Busy reports whether a sort is in flight.
func (s *Sorter) Busy() bool {
	return s.busy.Load()
}

func (s *Sorter) run(n int, less func(a, b int) bool) (<-chan []int, bool) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	out := make(chan []int, 1)
	go func() {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		sort.SliceStable(perm, func(i, j int) bool {
			return less(perm[i], perm[j])
		})
		s.busy.Store(false)
		out <- perm
		close(out)
	}()
	return out, true
}

func numericOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
