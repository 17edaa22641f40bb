package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/sync"
	"github.com/mwsrs/reviews/internal/ui"
)

var reviewsCmd = &cobra.Command{
	Use:     "reviews",
	GroupID: "data",
	Short:   "Read and write reviews",
}

var reviewsListCmd = &cobra.Command{
	Use:   "list <restaurant-id>",
	Short: "List a restaurant's reviews, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceText, _ := cmd.Flags().GetString("since")
		rid, err := parseID(args[0])
		if err != nil {
			return err
		}
		var since time.Time
		if sinceText != "" {
			if since, err = parseSince(sinceText, time.Now()); err != nil {
				return err
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.coord.FetchCollection(cmd.Context(), schema.CollectionReviews, sync.Filter{RestaurantID: rid})
		if err != nil {
			return err
		}
		reviews := make([]*schema.Review, 0, len(recs))
		for _, rec := range recs {
			r := rec.(*schema.Review)
			if !since.IsZero() && r.UpdatedAt.Before(since) {
				continue
			}
			reviews = append(reviews, r)
		}
		if jsonOutput {
			return printJSON(reviews)
		}

		if len(reviews) == 0 {
			fmt.Println(ui.RenderMuted("No reviews yet!"))
			return nil
		}
		width := ui.Width(cmd.OutOrStdout())
		for _, r := range reviews {
			date := "unsent"
			if !r.UpdatedAt.IsZero() {
				date = r.UpdatedAt.Local().Format("January 2, 2006")
			}
			fmt.Printf("%s  %s  %s %s\n", ui.Stars(r.Rating), ui.RenderHeader(r.Name), ui.RenderMuted(date),
				ui.RenderMuted("#"+strconv.FormatInt(r.ID, 10)))
			fmt.Printf("   %s\n\n", ui.Truncate(r.Comments, width-3))
		}
		return nil
	},
}

var reviewsAddCmd = &cobra.Command{
	Use:   "add <restaurant-id>",
	Short: "Write a review",
	Long: `Write a review. Missing fields are asked for interactively when running
in a terminal.

The review is saved locally first. If the server cannot be reached it is
queued and sent by the next replay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rid, err := parseID(args[0])
		if err != nil {
			return err
		}
		review := &schema.Review{RestaurantID: rid}
		review.Name, _ = cmd.Flags().GetString("name")
		review.Rating, _ = cmd.Flags().GetInt("rating")
		review.Comments, _ = cmd.Flags().GetString("comment")

		if review.Name == "" || review.Rating == 0 || review.Comments == "" {
			if !ui.IsInteractive() {
				return errors.New("--name, --rating and --comment are required when not running in a terminal")
			}
			if err := reviewForm(review).Run(); err != nil {
				return err
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coord.Mutate(cmd.Context(), sync.OpCreate, review)
		if err != nil {
			return err
		}
		return printMutation(res, "Review saved")
	},
}

var reviewsEditCmd = &cobra.Command{
	Use:   "edit <review-id>",
	Short: "Change a review",
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

		rec, err := a.coord.FetchEntity(cmd.Context(), schema.CollectionReviews, id)
		if err != nil {
			return err
		}
		review := rec.(*schema.Review)

		changed := false
		if cmd.Flags().Changed("name") {
			review.Name, _ = cmd.Flags().GetString("name")
			changed = true
		}
		if cmd.Flags().Changed("rating") {
			review.Rating, _ = cmd.Flags().GetInt("rating")
			changed = true
		}
		if cmd.Flags().Changed("comment") {
			review.Comments, _ = cmd.Flags().GetString("comment")
			changed = true
		}
		if !changed {
			if !ui.IsInteractive() {
				return errors.New("nothing to change: pass --name, --rating or --comment")
			}
			if err := reviewForm(review).Run(); err != nil {
				return err
			}
		}

		res, err := a.coord.Mutate(cmd.Context(), sync.OpUpdate, review)
		if err != nil {
			return err
		}
		return printMutation(res, "Review updated")
	},
}

var reviewsDeleteCmd = &cobra.Command{
	Use:   "delete <review-id>",
	Short: "Delete a review",
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

		res, err := a.coord.Mutate(cmd.Context(), sync.OpDelete, &schema.Review{ID: id})
		if err != nil {
			return err
		}
		return printMutation(res, "Review deleted")
	},
}

// reviewForm asks for the review fields, checking each with the same
// rules Mutate applies.
func reviewForm(r *schema.Review) *huh.Form {
	if r.Rating == 0 {
		r.Rating = 5
	}
	ratings := make([]huh.Option[int], 0, 5)
	for i := 5; i >= 1; i-- {
		ratings = append(ratings, huh.NewOption(ui.Stars(i), i))
	}

	return huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Your name").
			Value(&r.Name).
			Validate(fieldRule("name", func(c *schema.Review, v string) { c.Name = v })),
		huh.NewSelect[int]().
			Title("Rating").
			Options(ratings...).
			Value(&r.Rating),
		huh.NewText().
			Title("Comments").
			CharLimit(140).
			Value(&r.Comments).
			Validate(fieldRule("comments", func(c *schema.Review, v string) { c.Comments = v })),
	))
}

// fieldRule validates one field of an otherwise valid review.
func fieldRule(field string, set func(*schema.Review, string)) func(string) error {
	return func(v string) error {
		probe := &schema.Review{RestaurantID: 1, Name: "Probe", Rating: 1, Comments: "probe"}
		set(probe, v)
		var verr *schema.ValidationError
		if err := probe.Validate(); errors.As(err, &verr) {
			if p, ok := verr.Field(field); ok {
				return fmt.Errorf("%s %s", field, p.Message)
			}
		}
		return nil
	}
}

func init() {
	reviewsListCmd.Flags().String("since", "", `only reviews updated since, e.g. "yesterday" or 2018-01-31`)
	for _, c := range []*cobra.Command{reviewsAddCmd, reviewsEditCmd} {
		c.Flags().String("name", "", "reviewer name (letters only, up to 25)")
		c.Flags().Int("rating", 0, "rating from 1 to 5")
		c.Flags().String("comment", "", "comment (1-140 characters)")
	}
	reviewsCmd.AddCommand(reviewsListCmd, reviewsAddCmd, reviewsEditCmd, reviewsDeleteCmd)
	rootCmd.AddCommand(reviewsCmd)
}
