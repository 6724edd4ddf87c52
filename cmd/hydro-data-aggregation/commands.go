package main

import (
	"github.com/spf13/cobra"
)

var (
	// query flags
	quickLookName string
	itemEntries   []string
	startFlag     string
	endFlag       string
	overlayFlag   bool
	deltaFlag     bool
	sortColumn    int
	descending    bool
	internalFlag  bool

	rootCmd = &cobra.Command{
		Use:   "hydro",
		Short: "Aggregate hydrologic time series from USBR, USGS and Aquarius",
		Long: `hydro fetches water data series from several sources, aligns them on a
common time grid, flags suspicious values and serves the result as a table.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the quick-look watcher",
		RunE:  runServe, // serve.go
	}

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Run one query and write the table as CSV to stdout",
		Example: `  hydro query --item "1930|HOUR|USBR-LCHDB" --start 2025-03-01 --end 2025-03-02
  hydro query --quicklook "Lake Mead" --start "03/01/25 00:00:00" --end "03/08/25 00:00:00" --overlay`,
		RunE: runQuery, // query.go
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, queryCmd)

	f := queryCmd.Flags()
	f.StringVarP(&quickLookName, "quicklook", "q", "", "saved quick-look to run")
	f.StringArrayVarP(&itemEntries, "item", "i", nil, `request item as "dataId|interval|source" (repeatable)`)
	f.StringVar(&startFlag, "start", "", "window start (MM/DD/YY HH:MM:SS or YYYY-MM-DD[THH:MM])")
	f.StringVar(&endFlag, "end", "", "window end, exclusive")
	f.BoolVar(&overlayFlag, "overlay", false, "collapse column pairs into overlay columns")
	f.BoolVar(&deltaFlag, "delta", false, "append a difference column per column pair")
	f.IntVar(&sortColumn, "sort-column", -1, "sort rows by this column index")
	f.BoolVar(&descending, "descending", false, "sort descending")
	f.BoolVar(&internalFlag, "internal", false, "enable internal-only sources for this run")
	_ = queryCmd.MarkFlagRequired("start")
	_ = queryCmd.MarkFlagRequired("end")
	queryCmd.MarkFlagsMutuallyExclusive("quicklook", "item")
	queryCmd.MarkFlagsOneRequired("quicklook", "item")
}
