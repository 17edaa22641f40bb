package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwsrs/reviews/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay queued writes once",
	Long: `Send every queued write to the API in the order it was made.

Writes the API accepts are removed from the queue and the server's copy is
stored locally. A write that fails stays queued and holds back later
writes to the same record; writes to other records still go out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.coord.ResolvePending(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}

		fmt.Printf("%s Replay finished in %v\n", ui.RenderAccent("🔄"), report.Duration.Round(time.Millisecond))
		fmt.Printf("   Resolved:  %d\n", report.Resolved)
		fmt.Printf("   Failed:    %d\n", report.Failed)
		fmt.Printf("   Skipped:   %d\n", report.Skipped)
		fmt.Printf("   Remaining: %d\n", report.Remaining)
		for key, id := range report.Retargets {
			fmt.Printf("   %s %s is now id %d\n", ui.RenderPass("✓"), key, id)
		}
		for _, f := range report.Failures {
			fmt.Printf("   %s #%d %s: %s\n", ui.RenderFail("✗"), f.PendingID, f.Record, f.Error)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}

		fmt.Printf("%s Local store: %s (schema v%d)\n", ui.RenderAccent("📦"), stats.Path, stats.SchemaVersion)
		fmt.Printf("   Restaurants:   %d (%d favorites)\n", stats.Restaurants, stats.Favorites)
		fmt.Printf("   Reviews:       %d\n", stats.Reviews)
		fmt.Printf("   Static assets: %d\n", stats.StaticAssets)
		if stats.Pending > 0 {
			fmt.Printf("   %s %d change(s) not yet sent to the server\n", ui.RenderWarn("!"), stats.Pending)
		} else {
			fmt.Printf("   %s Everything is synced\n", ui.RenderPass("✓"))
		}
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "List queued writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.store.ListPending(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case jsonOutput:
			return printJSON(ops)
		case asYAML:
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(ops)
		}

		if len(ops) == 0 {
			fmt.Printf("%s No queued writes\n", ui.RenderPass("✓"))
			return nil
		}
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			rows = append(rows, []string{
				strconv.FormatInt(op.ID, 10),
				string(op.Method),
				op.Record().String(),
				op.CreatedAt.Local().Format(time.DateTime),
				strconv.Itoa(op.Attempts),
				ui.Truncate(op.LastError, 40),
			})
		}
		fmt.Print(ui.Table([]string{"ID", "METHOD", "RECORD", "QUEUED", "TRIES", "LAST ERROR"}, rows))
		return nil
	},
}

var pendingDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Discard a queued write without sending it",
	Long: `Discard a queued write. The local record keeps its current value; use
this for writes the server will never accept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.coord.DiscardPending(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("%s Dropped queued write #%d\n", ui.RenderPass("✓"), id)
		return nil
	},
}

func init() {
	pendingCmd.Flags().Bool("yaml", false, "output YAML")
	pendingCmd.AddCommand(pendingDropCmd)
	rootCmd.AddCommand(syncCmd, statusCmd, pendingCmd)
}

