package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	debug      bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:     "filesearch",
	Short:   "filesearch - local file name-search engine: index, watch, and query",
	Version: "v0.3.0",
	Long:    "filesearch - maintains an always-fresh index of every file and directory under the scan root and answers interactive name/path/glob queries.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Whoops. There was an error while executing your CLI '%s'", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to the app data directory)")
}
