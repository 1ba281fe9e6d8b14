package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/atomicobject/filesearch-core/internal/rpc"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	searchLimit   int
	searchOffset  int
	searchSortBy  string
	searchSortDir string
	searchTotal   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one query against the index and print the results",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := buildCore()
		if err != nil {
			log.Fatalf("Failed to initialize core: %v", err)
		}
		defer c.Close()

		resp, err := rpc.Search(context.Background(), c.rpcConfig(), query.Request{
			Query:        args[0],
			Limit:        searchLimit,
			Offset:       searchOffset,
			SortBy:       searchSortBy,
			SortDir:      searchSortDir,
			IncludeTotal: searchTotal,
		})
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}

		color.Cyan("mode=%s results=%d", resp.ModeLabel, len(resp.Entries))
		for _, e := range resp.Entries {
			size := ""
			if e.Size != nil {
				size = humanize.Bytes(uint64(*e.Size))
			}
			if e.IsDir {
				fmt.Printf("%s  %s\n", color.BlueString("dir "), e.Path)
			} else {
				fmt.Printf("file  %s  %s\n", e.Path, size)
			}
		}
		if resp.TotalCount != nil {
			known := "exact"
			if !resp.TotalKnown {
				known = "at least"
			}
			fmt.Printf("total: %s %s\n", known, humanize.Comma(*resp.TotalCount))
		}
		if resp.Provisional {
			color.Yellow("results are provisional (index still building)")
		}
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (default 300, cap 1000)")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "pagination offset")
	searchCmd.Flags().StringVar(&searchSortBy, "sort-by", "name", "sort column: name, dir, mtime, size")
	searchCmd.Flags().StringVar(&searchSortDir, "sort-dir", "asc", "sort direction: asc or desc")
	searchCmd.Flags().BoolVar(&searchTotal, "total", false, "also count matches under the same filter")
	rootCmd.AddCommand(searchCmd)
}
