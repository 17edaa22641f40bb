package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwsrs/reviews/internal/offline/loadtest"
	"github.com/mwsrs/reviews/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure local store read latency and offline write throughput",
	Long: `Build a throwaway store, then measure cache-first reads from many
concurrent clients and offline writes racing for provisional ids.

The API is never contacted: every write is queued.

Examples:
  rr bench
  rr bench --clients 50 --restaurants 500 --reviews 20
  rr bench --json`,
	GroupID: "maint",
	RunE:    runBench,
}

func init() {
	benchCmd.Flags().Int("clients", 20, "concurrent clients")
	benchCmd.Flags().Int("reads", 50, "reads per client")
	benchCmd.Flags().Int("restaurants", 100, "restaurants in the test store")
	benchCmd.Flags().Int("reviews", 10, "reviews per restaurant")
	benchCmd.Flags().Duration("writes-for", 2*time.Second, "how long to run the offline write phase (0 skips it)")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	clients, _ := cmd.Flags().GetInt("clients")
	reads, _ := cmd.Flags().GetInt("reads")
	restaurants, _ := cmd.Flags().GetInt("restaurants")
	reviews, _ := cmd.Flags().GetInt("reviews")
	writesFor, _ := cmd.Flags().GetDuration("writes-for")

	if clients <= 0 || reads <= 0 || restaurants <= 0 {
		return fmt.Errorf("--clients, --reads and --restaurants must be positive")
	}
	if reviews < 0 {
		return fmt.Errorf("--reviews must not be negative")
	}

	dir, err := os.MkdirTemp("", "rr-bench-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if !jsonOutput {
		fmt.Printf("Creating store with %d restaurants and %d reviews each...\n", restaurants, reviews)
	}
	td, err := loadtest.CreateTestDatabase(filepath.Join(dir, "bench.db"), restaurants, reviews)
	if err != nil {
		return err
	}
	defer td.Close()

	stats, err := td.RunConcurrentReads(cmd.Context(), clients, reads)
	if err != nil {
		return err
	}

	writes := 0
	if writesFor > 0 {
		if writes, err = td.VerifyConcurrentWrites(cmd.Context(), clients, writesFor); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(map[string]any{
			"clients":      clients,
			"reads":        stats.TotalQueries,
			"errors":       stats.Errors,
			"p50_ms":       ms(stats.P50),
			"p95_ms":       ms(stats.P95),
			"p99_ms":       ms(stats.P99),
			"max_ms":       ms(stats.Max),
			"writes":       writes,
			"writes_per_s": float64(writes) / writesFor.Seconds(),
		})
	}

	fmt.Println()
	stats.PrintStats(os.Stdout)
	if writesFor > 0 {
		fmt.Printf("\n%s %d offline writes in %v (%.0f/s), every provisional id unique\n",
			ui.RenderPass("✓"), writes, writesFor, float64(writes)/writesFor.Seconds())
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
