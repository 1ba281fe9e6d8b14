package cmd

import (
	"context"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var indexReset bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one full index pass and exit",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := buildCore()
		if err != nil {
			log.Fatalf("Failed to initialize core: %v", err)
		}
		defer c.Close()

		ctx := context.Background()
		start := time.Now()
		if indexReset {
			color.Yellow("Resetting index at %s", c.cfg.DBPath)
			err = c.indexer.Reset(ctx)
		} else {
			err = c.indexer.Start(ctx)
		}
		if err != nil {
			log.Fatalf("Indexing failed: %v", err)
		}

		n, cerr := c.store.EntriesCount(ctx)
		if cerr != nil {
			log.Fatalf("Count failed: %v", cerr)
		}
		color.Green("Indexed %s entries under %s in %s",
			humanize.Comma(n), c.cfg.ScanRoot, time.Since(start).Round(time.Millisecond))
		if pe := c.tracker.Snapshot().PermissionErrors; pe > 0 {
			color.Yellow("%d paths were unreadable and skipped", pe)
		}
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "truncate the index and rebuild from scratch")
	rootCmd.AddCommand(indexCmd)
}
