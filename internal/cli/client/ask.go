package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskRequest represents the ask API request.
type AskRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Question       string `json:"question"`
}

// AskResponse represents the ask API response.
type AskResponse struct {
	Answer     string   `json:"answer"`
	Answered   bool     `json:"answered"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the assistant a question",
		Long: `Sends a question to the assistant. The answer is grounded in the knowledge base;
when confidence is too low the assistant says it does not know.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAsk(cmd, strings.Join(args, " "), conversationID, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID to keep history across questions")

	return cmd
}

func runAsk(cmd *cobra.Command, question, conversationID string, outputJSON bool) error {
	api, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/ask", AskRequest{
		ConversationID: conversationID,
		Question:       question,
	})
	if err != nil {
		return err
	}

	var out AskResponse
	if err := decodeData(resp, &out); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out)
	}

	fmt.Println(out.Answer)
	if out.Answered && len(out.Sources) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(out.Sources, ", "))
	}
	return nil
}
