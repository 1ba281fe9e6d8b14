package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the index status and cursors",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := buildCore()
		if err != nil {
			log.Fatalf("Failed to initialize core: %v", err)
		}
		defer c.Close()
		ctx := context.Background()

		n, err := c.store.EntriesCount(ctx)
		if err != nil {
			log.Fatalf("Count failed: %v", err)
		}
		fmt.Printf("scan root:  %s\n", c.cfg.ScanRoot)
		fmt.Printf("database:   %s\n", c.cfg.DBPath)
		fmt.Printf("entries:    %s\n", humanize.Comma(n))

		if raw, ok, _ := c.store.GetMeta(ctx, entry.MetaLastRunID); ok {
			fmt.Printf("last run:   %s\n", raw)
		}
		if complete, ok, _ := c.store.GetMeta(ctx, entry.MetaIndexComplete); ok && complete == "true" {
			color.Green("index:      complete")
		} else {
			color.Yellow("index:      incomplete (run `filesearch index`)")
		}
		for _, key := range []string{entry.MetaLastEventID, entry.MetaWinLastUSN, entry.MetaWinJournalID} {
			if raw, ok, _ := c.store.GetMeta(ctx, key); ok {
				fmt.Printf("%-11s %s\n", key+":", raw)
			}
		}
		if raw, ok, _ := c.store.GetMeta(ctx, entry.MetaRDCWLastActive); ok {
			if sec, err := parseUnix(raw); err == nil {
				fmt.Printf("last watch activity: %s\n", humanize.Time(sec))
			}
		}
	},
}

func parseUnix(raw string) (time.Time, error) {
	var sec int64
	if _, err := fmt.Sscanf(raw, "%d", &sec); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
