package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/service"
)

// ReviewCmd returns the review command
func ReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <summary-id> <approve|reject|changes_required>",
		Short: "Record a review decision on a sent summary",
		Long: `Record a reviewer's decision directly against the database.
Approving commits the summary's Q/A pairs, or the --changes text when given, to the knowledge base.`,
		Args: cobra.ExactArgs(2),
		RunE: runReview,
	}

	cmd.Flags().String("reviewer", "", "Reviewer name, must be listed in KBBOT_REVIEWERS (required)")
	cmd.Flags().String("changes", "", "Edited summary text or change notes")
	_ = cmd.MarkFlagRequired("reviewer")

	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	reviewer, _ := cmd.Flags().GetString("reviewer")
	changes, _ := cmd.Flags().GetString("changes")

	input := service.ReviewInput{
		SummaryID: args[0],
		Reviewer:  strings.TrimSpace(reviewer),
		Decision:  domain.ReviewDecision(args[1]),
		Changes:   changes,
	}
	if !domain.IsValidReviewDecision(input.Decision) {
		return fmt.Errorf("invalid decision %q (expected approve, reject or changes_required)", args[1])
	}

	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	return runUntilSignal(func(ctx context.Context) error {
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.reviews.Review(ctx, input)
		if err != nil {
			return err
		}

		fmt.Printf("Summary %s is now %s\n", out.Summary.ID, out.Summary.Status)
		if out.Committed > 0 {
			fmt.Printf("Committed %d documents to the knowledge base\n", out.Committed)
		}
		return nil
	})
}
