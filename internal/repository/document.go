package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

// documentsLockKey serialises schema creation across processes
const documentsLockKey = 7340021

// DocumentRepository persists knowledge documents in the kb_documents vector table.
// The table is created at runtime because the vector dimension is configuration.
type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

// EnsureSchema creates kb_documents and its indexes when absent and checks the
// vector dimension of an existing table.
func (r *DocumentRepository) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}

	ddl := fmt.Sprintf(`
		SELECT pg_advisory_xact_lock(%d);
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS kb_documents (
			id         TEXT PRIMARY KEY,
			question   TEXT NOT NULL DEFAULT '',
			answer     TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL DEFAULT '',
			embedding  vector(%d) NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'approved',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			search_tsv tsvector GENERATED ALWAYS AS (
				to_tsvector('english', question || ' ' || answer || ' ' || content)
			) STORED
		);
		CREATE INDEX IF NOT EXISTS idx_kb_documents_embedding ON kb_documents USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS idx_kb_documents_search ON kb_documents USING gin (search_tsv);
		CREATE INDEX IF NOT EXISTS idx_kb_documents_source ON kb_documents (source);`,
		documentsLockKey, dimensions)

	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create kb_documents: %w", err)
	}

	var existing int
	err := r.db.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'kb_documents'::regclass AND attname = 'embedding'`,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	if existing != dimensions {
		return fmt.Errorf("kb_documents embedding dimension is %d, configured %d", existing, dimensions)
	}
	return nil
}

// Upsert writes documents by id, replacing any existing row with the same id
func (r *DocumentRepository) Upsert(ctx context.Context, docs []*domain.KnowledgeDocument) error {
	for _, d := range docs {
		ts := d.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		status := d.Status
		if status == "" {
			status = domain.DocumentStatusApproved
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO kb_documents (id, question, answer, content, embedding, source, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			 ON CONFLICT (id) DO UPDATE SET
				question = EXCLUDED.question,
				answer = EXCLUDED.answer,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				source = EXCLUDED.source,
				status = EXCLUDED.status,
				updated_at = now()`,
			d.ID, d.Question, d.Answer, d.Content, pgvector.NewVector(d.Embedding), d.Source, string(status), ts,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}
	return nil
}

// SearchSemantic ranks documents by cosine similarity to embedding
func (r *DocumentRepository) SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]*domain.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, question, answer, content, source, status, created_at,
		        (1 - (embedding <=> $1))::real AS score
		 FROM kb_documents
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSearchRows(rows)
}

// SearchLexical ranks documents by full-text match. query uses websearch syntax.
func (r *DocumentRepository) SearchLexical(ctx context.Context, query string, limit int) ([]*domain.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`WITH q AS (SELECT websearch_to_tsquery('english', $1) AS tsq)
		 SELECT d.id, d.question, d.answer, d.content, d.source, d.status, d.created_at,
		        ts_rank_cd(d.search_tsv, q.tsq, 32)::real AS score
		 FROM kb_documents d, q
		 WHERE d.search_tsv @@ q.tsq
		 ORDER BY score DESC, d.id
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSearchRows(rows)
}

func (r *DocumentRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM kb_documents`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	var d domain.KnowledgeDocument
	var status string
	var vec pgvector.Vector
	err := r.db.QueryRow(ctx,
		`SELECT id, question, answer, content, embedding, source, status, created_at
		 FROM kb_documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Question, &d.Answer, &d.Content, &vec, &d.Source, &status, &d.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	d.Status = domain.DocumentStatus(status)
	d.Embedding = vec.Slice()
	return &d, nil
}

func scanSearchRows(rows pgx.Rows) ([]*domain.SearchResult, error) {
	results := make([]*domain.SearchResult, 0)
	for rows.Next() {
		var res domain.SearchResult
		var status string
		if err := rows.Scan(&res.ID, &res.Question, &res.Answer, &res.Content, &res.Source, &status, &res.Timestamp, &res.Score); err != nil {
			return nil, err
		}
		res.Status = domain.DocumentStatus(status)
		results = append(results, &res)
	}
	return results, rows.Err()
}
