package cmd

import (
	"context"
	"log"
	"os"
	"runtime"

	"github.com/atomicobject/filesearch-core/internal/events"
	"github.com/atomicobject/filesearch-core/internal/rpc"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/watcher"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the search daemon: indexer, watcher, query engine, and command surface",
	Long: `Run the full daemon. The command surface is served as MCP tools over
stdin/stdout for the GUI collaborator; lifecycle events (index_progress,
index_state, index_updated) are pushed over a loopback websocket.

Example MCP client configuration:
{
  "mcpServers": {
    "filesearch": {
      "command": "/path/to/filesearch",
      "args": ["serve"]
    }
  }
}`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if debug {
			log.SetOutput(os.Stderr)
		}

		c, err := buildCore()
		if err != nil {
			log.Fatalf("Failed to initialize core: %v", err)
		}
		defer c.Close()

		hub := events.NewHub()
		c.tracker.OnState = func(snap status.Snapshot) {
			hub.Broadcast("index_state", events.StatePayload{
				State:     string(snap.State),
				Message:   snap.Message,
				IsCatchup: snap.IsCatchup,
			})
		}
		c.tracker.OnProgress = func(p status.Progress) {
			hub.Broadcast("index_progress", events.ProgressPayload{
				Scanned:     p.Scanned,
				Indexed:     p.Indexed,
				CurrentPath: p.CurrentPath,
			})
		}
		c.indexer.OnUpdated = func() {
			snap := c.tracker.Snapshot()
			hub.Broadcast("index_updated", events.UpdatedPayload{
				EntriesCount:     snap.EntriesCount,
				LastUpdated:      snap.LastUpdated,
				PermissionErrors: snap.PermissionErrors,
			})
		}
		go func() {
			if err := hub.ListenAndServe(c.cfg.EventsAddr); err != nil {
				log.Printf("events: listener stopped: %v", err)
			}
		}()

		// Offline catch-up before streaming, then the bulk run. Both feed
		// the same status record the GUI polls.
		go func() {
			if runtime.GOOS == "windows" {
				watcher.Catchup(ctx, c.cfg, c.store, c.indexer, c.tracker)
			}
			if err := c.indexer.Start(ctx); err != nil {
				log.Printf("indexer: %v", err)
			}
		}()

		src := watcher.NewPlatformSource(ctx, c.cfg, c.store, c.ignore, c.indexer.TakeMFTHandoff())
		w := watcher.New(c.cfg, c.store, c.recent, c.indexer, c.tracker, src)
		if err := w.Start(ctx); err != nil {
			log.Printf("watcher: native stream unavailable (%v); using fallback watcher", err)
			w = watcher.New(c.cfg, c.store, c.recent, c.indexer, c.tracker,
				watcher.NewFallbackSource(c.cfg, c.ignore))
			if err := w.Start(ctx); err != nil {
				log.Printf("watcher: fallback unavailable: %v", err)
			}
		}

		s := server.NewMCPServer(
			"filesearch",
			rootCmd.Version,
			server.WithToolCapabilities(false),
			server.WithInstructions(serveInstructions),
		)
		if err := rpc.RegisterAll(s, c.rpcConfig()); err != nil {
			log.Fatalf("Failed to register tools: %v", err)
		}

		if debug {
			log.Printf("Starting daemon for scan root %s (db %s)", c.cfg.ScanRoot, c.cfg.DBPath)
		}
		if err := server.ServeStdio(s); err != nil {
			log.Printf("MCP server error: %v", err)
		}

		// Shutdown ordering: watcher first (stops feeding), then the
		// indexer, then the store; cursors flush inside watcher.Stop.
		w.Stop()
		c.indexer.Stop()
		cancel()
	},
}

const serveInstructions = `This MCP server exposes a local file/folder name-search engine.

Main tools:
• search – name/path/glob queries over the index. Mode is classified from the query itself (*.ext, globs, paths, plain names).
• get_index_status – current state (Unknown/Indexing/Ready/Error), entry count, progress.
• start_full_index / reset_index – background (re)build of the index.
• recent_op_register / apply_rename – call before self-initiated file operations so the change stream does not echo them back.

Queries answer in well under 50ms against corpora of a million entries; while the first bulk index is still running, results come from an in-memory accelerator and the platform's own search index.`

func init() {
	rootCmd.AddCommand(serveCmd)
}
