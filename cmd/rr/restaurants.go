package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/sync"
	"github.com/mwsrs/reviews/internal/ui"
)

var restaurantsCmd = &cobra.Command{
	Use:     "restaurants",
	Aliases: []string{"r"},
	GroupID: "data",
	Short:   "Browse restaurants",
}

var restaurantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restaurants (cache first)",
	RunE: func(cmd *cobra.Command, args []string) error {
		favorites, _ := cmd.Flags().GetBool("favorites")
		cuisine, _ := cmd.Flags().GetString("cuisine")
		neighborhood, _ := cmd.Flags().GetString("neighborhood")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.coord.FetchCollection(cmd.Context(), schema.CollectionRestaurants, sync.Filter{
			FavoritesOnly: favorites,
			Cuisine:       cuisine,
			Neighborhood:  neighborhood,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(recs)
		}

		rows := make([][]string, 0, len(recs))
		for _, rec := range recs {
			r := rec.(*schema.Restaurant)
			fav := ""
			if bool(r.IsFavorite) {
				fav = ui.RenderWarn("♥")
			}
			rows = append(rows, []string{
				strconv.FormatInt(r.ID, 10), fav, r.Name, r.Neighborhood, r.CuisineType,
			})
		}
		fmt.Print(ui.Table([]string{"ID", "", "NAME", "NEIGHBORHOOD", "CUISINE"}, rows))
		return nil
	},
}

var restaurantsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one restaurant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.coord.FetchEntity(cmd.Context(), schema.CollectionRestaurants, id)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rec)
		}

		r := rec.(*schema.Restaurant)
		title := r.Name
		if bool(r.IsFavorite) {
			title += " " + ui.RenderWarn("♥")
		}
		fmt.Println(ui.RenderHeader(title))
		fmt.Printf("   %s · %s\n", r.CuisineType, r.Neighborhood)
		if r.Address != "" {
			fmt.Printf("   %s\n", r.Address)
		}
		fmt.Printf("   %s\n", ui.RenderMuted(r.ImagePath()))
		for _, day := range []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"} {
			if hours, ok := r.OperatingHours[day]; ok {
				fmt.Printf("   %-10s %s\n", day, hours)
			}
		}
		return nil
	},
}

var restaurantsFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Mark (or with --off, unmark) a restaurant as favorite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coord.ToggleFavorite(cmd.Context(), id, !off)
		if err != nil {
			return err
		}
		return printMutation(res, "Favorite updated")
	},
}

func listCmd(use, short string, fetch func(*app, *cobra.Command) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			values, err := fetch(a, cmd)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(values)
			}
			fmt.Println(strings.Join(values, "\n"))
			return nil
		},
	}
}

func init() {
	restaurantsListCmd.Flags().Bool("favorites", false, "only favorites")
	restaurantsListCmd.Flags().String("cuisine", "all", "filter by cuisine")
	restaurantsListCmd.Flags().String("neighborhood", "all", "filter by neighborhood")
	restaurantsFavoriteCmd.Flags().Bool("off", false, "remove from favorites")

	restaurantsCmd.AddCommand(
		restaurantsListCmd,
		restaurantsGetCmd,
		restaurantsFavoriteCmd,
		listCmd("neighborhoods", "List neighborhoods", func(a *app, cmd *cobra.Command) ([]string, error) {
			return a.coord.Neighborhoods(cmd.Context())
		}),
		listCmd("cuisines", "List cuisines", func(a *app, cmd *cobra.Command) ([]string, error) {
			return a.coord.Cuisines(cmd.Context())
		}),
	)
	rootCmd.AddCommand(restaurantsCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// printMutation reports a write's outcome.
func printMutation(res *sync.MutationResult, what string) error {
	if jsonOutput {
		return printJSON(map[string]any{
			"status":  res.Status.String(),
			"record":  res.Key.String(),
			"value":   res.Record,
			"pending": res.Pending,
		})
	}
	switch res.Status {
	case sync.StatusConfirmed:
		fmt.Printf("%s %s (%s)\n", ui.RenderPass("✓"), what, res.Key)
	case sync.StatusUnconfirmed:
		fmt.Printf("%s %s locally (%s); queued as #%d until the server is reachable\n",
			ui.RenderWarn("…"), what, res.Key, res.Pending.ID)
	}
	return nil
}
