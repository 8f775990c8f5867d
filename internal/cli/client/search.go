package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// SearchRequest represents the knowledge search API request.
type SearchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k,omitempty"`
	MinScore float32 `json:"min_score,omitempty"`
	Mode     string  `json:"mode,omitempty"`
}

// SearchResult represents a search result.
type SearchResult struct {
	ID       string  `json:"id"`
	Question string  `json:"question,omitempty"`
	Answer   string  `json:"answer,omitempty"`
	Content  string  `json:"content,omitempty"`
	Source   string  `json:"source,omitempty"`
	Score    float32 `json:"score"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		mode     string
		topK     int
		minScore float32
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long:  "Searches approved knowledge documents using semantic, lexical, or hybrid retrieval.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			req := SearchRequest{
				Query:    strings.Join(args, " "),
				TopK:     topK,
				MinScore: minScore,
				Mode:     mode,
			}
			return runSearch(cmd, req, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "Retrieval mode: semantic, lexical, or hybrid")
	cmd.Flags().IntVarP(&topK, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "Drop results scoring below this value")

	return cmd
}

func runSearch(cmd *cobra.Command, req SearchRequest, outputJSON bool) error {
	api, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/knowledge/search", req)
	if err != nil {
		return err
	}

	var results []SearchResult
	if err := decodeData(resp, &results); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%.2f] %s\n", i+1, r.Score, r.ID)
		if r.Question != "" {
			fmt.Printf("   Q: %s\n   A: %s\n", r.Question, truncate(r.Answer, 160))
		} else {
			fmt.Printf("   %s\n", truncate(r.Content, 160))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
