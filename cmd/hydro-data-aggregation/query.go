package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/hydro-data-aggregation/internal/hydro"
	"github.com/i474232898/hydro-data-aggregation/internal/quicklook"
)

func runQuery(cmd *cobra.Command, _ []string) error {
	start, err := parseBound(startFlag)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := parseBound(endFlag)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var items []hydro.RequestItem
	if quickLookName != "" {
		items, err = a.quickLooks.Load(quickLookName)
	} else {
		items, err = itemsFromFlags(itemEntries)
	}
	if err != nil {
		return err
	}

	res, err := a.service.Execute(cmd.Context(), hydro.Query{
		Items:    items,
		Start:    start,
		End:      end,
		Internal: internalFlag || a.cfg.Query.Internal,
		Overlay:  overlayFlag,
		Delta:    deltaFlag,
	})
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		a.logger.Warn().Msg(w)
	}

	if sortColumn >= 0 {
		var sorter hydro.Sorter
		perm, ok := sorter.SortByColumn(res.Table, sortColumn, descending)
		if !ok {
			return fmt.Errorf("--sort-column %d out of range", sortColumn)
		}
		res.Table.Permute(<-perm)
	}

	return writeCSV(cmd.OutOrStdout(), res.Table)
}

// itemsFromFlags parses "dataId|interval|source" entries in command-line order.
func itemsFromFlags(entries []string) ([]hydro.RequestItem, error) {
	items := make([]hydro.RequestItem, 0, len(entries))
	for i, e := range entries {
		it, err := quicklook.ParseEntry(e, i)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, errors.New("no request items")
	}
	return items, nil
}

var boundLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseBound(s string) (time.Time, error) {
	if ts, err := hydro.ParseTimestamp(s); err == nil {
		return ts, nil
	}
	for _, layout := range boundLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// writeCSV writes a header row of column labels followed by one row per grid
// timestamp.
func writeCSV(w io.Writer, table *hydro.Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{"Timestamp"}, table.Labels()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for r, stamp := range hydro.Grid(table.Timestamps).Strings() {
		record[0] = stamp
		for c, col := range table.Columns {
			record[c+1] = col.Values[r]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
