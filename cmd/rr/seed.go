package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/seed"
	"github.com/mwsrs/reviews/internal/ui"
)

var seedCmd = &cobra.Command{
	Use:     "seed <file>",
	GroupID: "maint",
	Short:   "Load restaurants and reviews from a JSON or JSONL export",
	Long: `Load records into the local store without contacting the API.

The file may hold a JSON array or one object per line. Each record's
collection is detected from its fields unless --collection is given.
Records that fail validation are skipped and reported.

Examples:
  rr seed data/restaurants.json
  rr seed reviews.jsonl --collection reviews --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().Bool("dry-run", false, "parse and validate without writing")
	seedCmd.Flags().String("collection", "", "restaurants or reviews (default: detect)")
	seedCmd.Flags().Int("batch", 500, "records per transaction")
	seedCmd.Flags().Bool("yaml", false, "output the result as YAML")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	collection, _ := cmd.Flags().GetString("collection")
	batch, _ := cmd.Flags().GetInt("batch")
	asYAML, _ := cmd.Flags().GetBool("yaml")

	opts := seed.Options{From: args[0], DryRun: dryRun, BatchSize: batch}
	if collection != "" {
		c, err := schema.ParseCollection(collection)
		if err != nil {
			return err
		}
		opts.Collection = c
	}

	store, err := db.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	res, err := seed.Import(cmd.Context(), store, opts)
	if err != nil {
		return err
	}

	switch {
	case jsonOutput:
		return printJSON(res)
	case asYAML:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(res)
	}

	verb := "Imported"
	if dryRun {
		verb = "Would import"
	}
	fmt.Printf("%s %s %d restaurants and %d reviews into %s\n",
		ui.RenderPass("✓"), verb, res.Restaurants, res.Reviews, ui.RenderAccent(store.Path()))
	if res.Skipped > 0 {
		fmt.Printf("%s skipped %d records\n", ui.RenderWarn("!"), res.Skipped)
		for _, e := range res.Errors {
			fmt.Printf("   %s\n", ui.RenderMuted(e))
		}
	}
	return nil
}
