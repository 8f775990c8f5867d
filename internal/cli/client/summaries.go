package client

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// QAPair is one question/answer pair in a summary.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Summary represents a knowledge summary returned by the API.
type Summary struct {
	ID          string   `json:"id"`
	Date        string   `json:"date"`
	PeriodStart string   `json:"period_start"`
	Status      string   `json:"status"`
	SummaryText string   `json:"summary_text"`
	Pairs       []QAPair `json:"pairs"`
	ReviewedBy  string   `json:"reviewed_by,omitempty"`
	ReviewedAt  string   `json:"reviewed_at,omitempty"`
	Changes     string   `json:"changes,omitempty"`
	Message     string   `json:"message"`
	CreatedAt   string   `json:"created_at"`
}

// SummaryList represents a page of summaries.
type SummaryList struct {
	Items   []*Summary `json:"items"`
	Cursor  string     `json:"cursor,omitempty"`
	HasMore bool       `json:"has_more"`
}

// ReviewRequest represents the review API request.
type ReviewRequest struct {
	Decision string `json:"decision"`
	Changes  string `json:"changes,omitempty"`
}

// ReviewResult represents the review API response.
type ReviewResult struct {
	Summary   *Summary `json:"summary"`
	Committed int      `json:"committed"`
}

// RunResult represents the summary run API response.
type RunResult struct {
	Kind       string   `json:"kind"`
	Summary    *Summary `json:"summary"`
	Superseded []string `json:"superseded,omitempty"`
}

// SummariesCmd creates the summaries parent command.
func SummariesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "summaries",
		Aliases: []string{"summary"},
		Short:   "Inspect and review knowledge summaries",
	}

	cmd.AddCommand(summariesListCmd())
	cmd.AddCommand(summariesShowCmd())
	cmd.AddCommand(summariesRunCmd())
	cmd.AddCommand(ReviewCmd())

	return cmd
}

func summariesListCmd() *cobra.Command {
	var (
		status string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List summaries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			query.Set("limit", strconv.Itoa(limit))

			resp, err := api.Get("/summaries", query)
			if err != nil {
				return err
			}

			var page SummaryList
			if err := decodeData(resp, &page); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(page)
			}
			printSummaryList(&page)
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (sent, approved, rejected, ...)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of summaries")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func summariesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a summary and its Q/A pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Get("/summaries/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}

			var s Summary
			if err := decodeData(resp, &s); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(s)
			}
			printSummary(&s)
			return nil
		},
	}
}

func summariesRunCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate today's summary now",
		Long:  "Runs the daily summary flow immediately. Without --force it runs at most once per day.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Post("/summaries/run", map[string]bool{"force": force})
			if err != nil {
				return err
			}

			var out RunResult
			if err := decodeData(resp, &out); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(out)
			}

			fmt.Printf("Run: %s\n", out.Kind)
			if len(out.Superseded) > 0 {
				fmt.Printf("Superseded: %d summaries\n", len(out.Superseded))
			}
			if out.Summary != nil {
				fmt.Println()
				printSummary(out.Summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Run even if today's summary was already generated")

	return cmd
}

// ReviewCmd creates the review command.
func ReviewCmd() *cobra.Command {
	var changes string

	cmd := &cobra.Command{
		Use:   "review <id> <approve|reject|changes_required>",
		Short: "Record a review decision on a sent summary",
		Long: `Approves, rejects, or requests changes on a summary that is awaiting review.
Approving commits the summary's Q/A pairs to the knowledge base. With --changes,
the edited "Q: ... A: ..." text is committed instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runReview(cmd, args[0], ReviewRequest{Decision: args[1], Changes: changes}, outputJSON)
		},
	}

	cmd.Flags().StringVar(&changes, "changes", "", "Edited summary text or change notes")

	return cmd
}

func runReview(cmd *cobra.Command, id string, req ReviewRequest, outputJSON bool) error {
	api, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/summaries/"+url.PathEscape(id)+"/review", req)
	if err != nil {
		return err
	}

	var out ReviewResult
	if err := decodeData(resp, &out); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out)
	}

	fmt.Printf("Summary %s is now %s\n", out.Summary.ID, out.Summary.Status)
	if out.Committed > 0 {
		fmt.Printf("Committed %d documents to the knowledge base\n", out.Committed)
	}
	return nil
}

func printSummaryList(page *SummaryList) {
	if len(page.Items) == 0 {
		fmt.Println("No summaries found.")
		return
	}

	for _, s := range page.Items {
		period := s.Date
		if s.PeriodStart != "" && s.PeriodStart != s.Date {
			period = s.PeriodStart + ".." + s.Date
		}
		fmt.Printf("%s  %-22s  %-21s  %d pairs\n", s.ID, period, s.Status, len(s.Pairs))
	}

	if page.HasMore {
		fmt.Printf("\nMore results available. Use --cursor %s\n", page.Cursor)
	}
}

func printSummary(s *Summary) {
	fmt.Printf("ID: %s\n", s.ID)
	fmt.Printf("Date: %s\n", s.Date)
	if s.PeriodStart != "" && s.PeriodStart != s.Date {
		fmt.Printf("Period start: %s\n", s.PeriodStart)
	}
	fmt.Printf("Status: %s\n", s.Status)
	if s.ReviewedBy != "" {
		fmt.Printf("Reviewed by: %s at %s\n", s.ReviewedBy, s.ReviewedAt)
	}
	if s.Changes != "" {
		fmt.Printf("Changes: %s\n", s.Changes)
	}

	if len(s.Pairs) == 0 {
		fmt.Println("\nNo Q/A pairs.")
		return
	}
	fmt.Println()
	for i, p := range s.Pairs {
		fmt.Printf("%d. Q: %s\n   A: %s\n", i+1, p.Question, p.Answer)
	}
}
