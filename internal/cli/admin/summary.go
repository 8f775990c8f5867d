package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/jobs"
	"github.com/cloo-solutions/kbbot/internal/service"
)

// SummaryCmd returns the summary parent command
func SummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Run and inspect knowledge summaries",
	}

	cmd.AddCommand(SummaryRunCmd())
	cmd.AddCommand(SummaryListCmd())

	return cmd
}

// SummaryRunCmd returns the summary run command
func SummaryRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate today's summary now",
		Long: `Run the daily summary flow once, outside the scheduler window.
A multi-day backlog of unreviewed summaries is consolidated, a single-day backlog is resent.`,
		RunE: runSummaryRun,
	}

	cmd.Flags().Bool("force", true, "Run even if a summary was already generated by this process today")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runSummaryRun(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	outputFormat, _ := cmd.Flags().GetString("output")

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

		result, err := a.scheduler.Trigger(ctx, force)
		if errors.Is(err, jobs.ErrAlreadyFired) {
			fmt.Println("Summary already generated today")
			return nil
		}
		if err != nil {
			return fmt.Errorf("summary run failed: %w", err)
		}

		if outputFormat == "json" {
			data := map[string]any{
				"kind":       result.Kind,
				"summary_id": result.Summary.ID,
				"date":       result.Date.Format("2006-01-02"),
				"superseded": result.Superseded,
				"pairs":      service.ParseQAPairs(result.Summary.SummaryText),
			}
			if result.Curation != nil {
				data["conversations"] = result.Curation.Conversations
				data["extracted"] = result.Curation.Extracted
				data["dropped"] = result.Curation.Dropped
			}
			jsonBytes, _ := json.MarshalIndent(data, "", "  ")
			fmt.Println(string(jsonBytes))
			return nil
		}

		fmt.Printf("Summary %s (%s)\n\n", result.Summary.ID, result.Kind)
		fmt.Println(result.Message)
		return nil
	})
}

// SummaryListCmd returns the summary list command
func SummaryListCmd() *cobra.Command {
	var (
		status string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List summaries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")

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

				out, err := a.summaries.List(ctx, service.ListSummariesInput{
					Status: domain.SummaryStatus(status),
					Cursor: cursor,
					Limit:  limit,
				})
				if err != nil {
					return fmt.Errorf("failed to list summaries: %w", err)
				}

				if outputFormat == "json" {
					items := make([]map[string]any, 0, len(out.Items))
					for _, s := range out.Items {
						items = append(items, map[string]any{
							"id":           s.ID,
							"date":         s.Date.Format("2006-01-02"),
							"period_start": s.PeriodStart.Format("2006-01-02"),
							"status":       s.Status,
							"reviewed_by":  s.ReviewedBy,
						})
					}
					jsonBytes, _ := json.MarshalIndent(map[string]any{
						"items":    items,
						"cursor":   out.Cursor,
						"has_more": out.HasMore,
					}, "", "  ")
					fmt.Println(string(jsonBytes))
					return nil
				}

				if len(out.Items) == 0 {
					fmt.Println("No summaries found")
					return nil
				}
				fmt.Printf("%-36s  %-10s  %-21s  %s\n", "ID", "DATE", "STATUS", "REVIEWED BY")
				for _, s := range out.Items {
					fmt.Printf("%-36s  %-10s  %-21s  %s\n", s.ID, s.Date.Format("2006-01-02"), s.Status, s.ReviewedBy)
				}
				if out.HasMore {
					fmt.Printf("\nMore results available. Use --cursor %s\n", out.Cursor)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of summaries")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous output")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}
