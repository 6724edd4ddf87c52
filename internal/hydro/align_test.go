package hydro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyGrid(t *testing.T, hours int) Grid {
	t.Helper()
	start := at(2025, 3, 1, 0, 0)
	grid, err := BuildGrid(start, start.Add(time.Duration(hours)*time.Hour), IntervalHour)
	require.NoError(t, err)
	return grid
}

func TestAlignSinglePointGap(t *testing.T) {
	grid := hourlyGrid(t, 5)
	rows := []Row{
		{Timestamp: grid[0], Value: "10.5"},
		{Timestamp: grid[1], Value: "11"},
		{Timestamp: grid[3], Value: "13"},
		{Timestamp: grid[4], Value: "14"},
	}

	res := Align(grid, rows, "1930")
	assert.Equal(t, []string{"10.5", "11", "", "13", "14"}, res.Series.Values())
	assert.Zero(t, res.Discarded())
}

func TestAlignDiscardsExtraAndMalformed(t *testing.T) {
	grid := hourlyGrid(t, 3)
	rows := []Row{
		{Timestamp: grid[0].Add(-time.Hour), Value: "early"},
		{Timestamp: grid[0], Value: "1"},
		{Timestamp: grid[0].Add(30 * time.Minute), Value: "between"},
		{Value: "no timestamp"},
		{Timestamp: grid[2], Value: "3"},
		{Timestamp: grid[2].Add(time.Hour), Value: "late"},
	}

	res := Align(grid, rows, "x")
	assert.Equal(t, []string{"1", "", "3"}, res.Series.Values())
	assert.Equal(t, 3, res.Extra)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 4, res.Discarded())
}

func TestAlignPreservesCardinalityAndTimestamps(t *testing.T) {
	grid := hourlyGrid(t, 24)
	inputs := [][]Row{
		nil,
		{{Timestamp: grid[5], Value: "5"}},
		{{Timestamp: grid[0].Add(-48 * time.Hour), Value: "old"}},
		{{Timestamp: grid[23].Add(48 * time.Hour), Value: "future"}},
	}
	for _, rows := range inputs {
		res := Align(grid, rows, "x")
		require.Len(t, res.Series, len(grid))
		for i, row := range res.Series {
			assert.Equal(t, grid[i], row.Timestamp)
		}
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	grid := hourlyGrid(t, 6)
	rows := []Row{
		{Timestamp: grid[1], Value: "1"},
		{Timestamp: grid[1].Add(time.Minute), Value: "x"},
		{Timestamp: grid[4], Value: "4"},
	}
	once := Align(grid, rows, "x")
	twice := Align(grid, once.Series, "x")
	assert.Equal(t, once.Series, twice.Series)
}

func TestSortRowsDedupes(t *testing.T) {
	rows := SortRows([]Row{
		{Timestamp: at(2025, 1, 1, 2, 0), Value: "c"},
		{Timestamp: at(2025, 1, 1, 0, 0), Value: "a"},
		{Timestamp: at(2025, 1, 1, 2, 0), Value: "dup"},
		{Timestamp: at(2025, 1, 1, 1, 0), Value: "b"},
	})
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Value)
	assert.Equal(t, "b", rows[1].Value)
	assert.Equal(t, "c", rows[2].Value)
}

func TestMissingSeries(t *testing.T) {
	grid := hourlyGrid(t, 3)
	s := MissingSeries(grid)
	require.Len(t, s, 3)
	for i, r := range s {
		assert.Equal(t, grid[i], r.Timestamp)
		assert.Empty(t, r.Value)
	}
}
