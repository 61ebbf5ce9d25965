package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// searchTimeout bounds vector search queries so a scan over a large corpus
// cannot hold a pool connection indefinitely.
const searchTimeout = 10 * time.Second

// upsertDocumentSQL inserts or replaces a document by ID.
// created_at is not updated on conflict: the first index time wins, so
// re-indexing a source keeps its original timestamps.
const upsertDocumentSQL = `INSERT INTO documents (id, content, metadata, embedding, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		content   = EXCLUDED.content,
		metadata  = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding`

// searchDocumentsSQL is the filtered vector search. The jsonb containment
// operator (@>) matches rows whose metadata includes every filter pair.
const searchDocumentsSQL = `SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS similarity
	FROM documents
	WHERE metadata @> $2
	ORDER BY embedding <=> $1
	LIMIT $3`

// searchDocumentsAllSQL is the unfiltered vector search.
const searchDocumentsAllSQL = `SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS similarity
	FROM documents
	ORDER BY embedding <=> $1
	LIMIT $2`

const deleteDocumentSQL = `DELETE FROM documents WHERE id = $1`

const countDocumentsSQL = `SELECT count(*) FROM documents`

// Postgres stores documents in PostgreSQL with the pgvector extension.
// Similarity search orders by cosine distance (<=>) and is served by the
// HNSW index provisioned in db/migrations.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to PostgreSQL and verifies the connection.
// Every pooled connection registers pgvector's types on connect so
// pgvector.Vector values encode natively.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

// Upsert inserts or replaces a document together with its embedding.
func (p *Postgres) Upsert(ctx context.Context, doc Document, embedding []float32) error {
	if err := validateUpsert(doc, embedding); err != nil {
		return err
	}

	// Normalize nil metadata to an empty object so the jsonb column never
	// holds a json null, which @> filters would silently skip.
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	vec := pgvector.NewVector(embedding)
	if _, err := p.pool.Exec(ctx, upsertDocumentSQL, doc.ID, doc.Content, metadataJSON, vec, createdAt); err != nil {
		return fmt.Errorf("failed to upsert document %q: %w", doc.ID, err)
	}

	p.logger.Debug("upserted document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search performs cosine similarity search, most similar first.
// Queries run under searchTimeout.
func (p *Postgres) Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]Result, error) {
	if err := validateEmbedding(embedding); err != nil {
		return nil, err
	}
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	results, err := p.runSearch(queryCtx, pgvector.NewVector(embedding), cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, err
	}
	return results, nil
}

// runSearch picks the filtered or unfiltered query and scans the rows.
//
// SECURITY NOTE (SQL injection prevention): the filter document is always
// produced by json.Marshal and bound as a query parameter. Filter keys and
// values are never concatenated into SQL text.
func (p *Postgres) runSearch(ctx context.Context, vec pgvector.Vector, cfg *searchConfig) ([]Result, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(cfg.filter) > 0 {
		filterJSON, marshalErr := json.Marshal(cfg.filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", marshalErr)
		}
		rows, err = p.pool.Query(ctx, searchDocumentsSQL, vec, filterJSON, cfg.topK)
	} else {
		rows, err = p.pool.Query(ctx, searchDocumentsAllSQL, vec, cfg.topK)
	}
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return p.scanResults(rows)
}

// scanResults converts search rows to Results.
func (p *Postgres) scanResults(rows pgx.Rows) ([]Result, error) {
	defer rows.Close()

	results := make([]Result, 0, DefaultTopK)
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			p.logger.Warn("failed to parse metadata", "document_id", doc.ID, "error", err)
			doc.Metadata = make(map[string]string)
		}
		results = append(results, Result{Document: doc, Similarity: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search rows: %w", err)
	}
	return results, nil
}

// Delete removes a document. Returns ErrNotFound when no row matched.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, deleteDocumentSQL, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete document %q: %w", id, ErrNotFound)
	}

	p.logger.Debug("deleted document", "id", id)
	return nil
}

// Count returns the total number of stored documents.
func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, countDocumentsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return count, nil
}

// Close drains the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
