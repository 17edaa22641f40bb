// Command rr runs the offline-first sync layer of the restaurant reviews
// client and inspects its local store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwsrs/reviews/internal/config"
	"github.com/mwsrs/reviews/internal/ui"
)

var (
	configFile string
	jsonOutput bool
	verbose    bool

	cfg    *config.Config
	loader *config.Loader
	logs   *config.Logs
)

var rootCmd = &cobra.Command{
	Use:   "rr",
	Short: "Offline-first sync layer for Restaurant Reviews",
	Long: `rr keeps a local copy of restaurants and reviews, serves the web client
from it when the API is unreachable, and replays writes made offline once
the API is back.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, loader, err = config.Load(config.Options{ConfigFile: configFile})
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Verbose = true
		}
		logs, err = config.OpenLogs(cfg.Log, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logs != nil {
			return logs.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ~/.rr/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
