package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbbot/internal/domain"
	"github.com/cloo-solutions/kbbot/internal/service"
)

const importBatchSize = 100

// importRecord is one element of the import file's JSON array
type importRecord struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Content  string `json:"content"`
	Source   string `json:"source"`
}

// ImportCmd returns the import command
func ImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Bulk import knowledge documents",
		Long: `Import a JSON array of documents into the knowledge base.

Each element has "id", "question", "answer", "content" and "source". Documents
without an id get a deterministic one. Long content is split into "<id>#<n>" parts.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("source", "import", "Source tag for documents that do not set one")
	cmd.Flags().Bool("dry-run", false, "Parse and split the file without writing anything")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	source, _ := cmd.Flags().GetString("source")
	docs, err := parseImport(f, source, time.Now().UTC())
	if err != nil {
		return err
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		fmt.Printf("Parsed %d documents (dry run, nothing written)\n", len(docs))
		return nil
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

		for start := 0; start < len(docs); start += importBatchSize {
			end := min(start+importBatchSize, len(docs))
			if err := a.store.Upsert(ctx, docs[start:end]...); err != nil {
				return fmt.Errorf("failed to import documents %d-%d: %w", start, end-1, err)
			}
			log.Info("imported batch", "from", start, "to", end-1)
		}

		fmt.Printf("Imported %d documents\n", len(docs))
		return nil
	})
}

// parseImport decodes the import file and splits long content documents
func parseImport(r io.Reader, defaultSource string, now time.Time) ([]*domain.KnowledgeDocument, error) {
	var records []importRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}

	chunking := service.DefaultChunkConfig()
	var docs []*domain.KnowledgeDocument
	for i, rec := range records {
		doc := &domain.KnowledgeDocument{
			ID:        strings.TrimSpace(rec.ID),
			Question:  strings.TrimSpace(rec.Question),
			Answer:    strings.TrimSpace(rec.Answer),
			Content:   strings.TrimSpace(rec.Content),
			Source:    rec.Source,
			Timestamp: now,
			Status:    domain.DocumentStatusImported,
		}
		if doc.Source == "" {
			doc.Source = defaultSource
		}
		if doc.EmbeddingText() == "" {
			return nil, fmt.Errorf("document %d has no question, answer or content", i)
		}
		if doc.ID == "" {
			doc.ID = service.DocumentID(doc.Source, doc.EmbeddingText())
		}
		docs = append(docs, service.SplitDocument(doc, chunking)...)
	}
	return docs, nil
}
