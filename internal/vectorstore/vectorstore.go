// Package vectorstore persists document embeddings and serves cosine
// similarity search over them.
//
// Two backends implement the Store interface:
//   - chromem: an embedded, file-backed store (philippgille/chromem-go).
//     Needs no external services; the default for fresh installs.
//   - pgvector: PostgreSQL with the pgvector extension. Handles larger
//     corpora and concurrent writers; schema lives in db/migrations.
//
// Open selects the backend from configuration. Callers compute embeddings
// themselves (see internal/rag); the store only persists and ranks them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/osprey0/osprey/internal/config"
)

// Dimension is the embedding vector width both backends store.
// It matches the output dimensionality requested from the embedding model
// and the vector(768) column provisioned by db/migrations.
const Dimension = 768

const (
	// DefaultTopK is the result count when WithTopK is not given.
	DefaultTopK = 5

	// MaxTopK caps the result count a caller can request.
	MaxTopK = 100
)

var (
	// ErrNotFound is returned when an operation names a document ID that
	// is not in the store.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidDocument is returned by Upsert for documents without an ID.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrDimensionMismatch is returned when an embedding's length is not
	// Dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Document is a stored text chunk. Chunk IDs follow the "source#n" form
// produced by internal/knowledge, so re-indexing a source overwrites its
// previous chunks instead of accumulating duplicates.
type Document struct {
	ID        string            // Unique identifier
	Content   string            // Document text content
	Metadata  map[string]string // Optional metadata (source, type, etc.)
	CreatedAt time.Time         // First time the document was stored
}

// Result is a single search hit.
type Result struct {
	Document   Document
	Similarity float32 // Cosine similarity score (0-1)
}

// Store is the persistence boundary for document embeddings.
//
// Implementations are safe for concurrent use by multiple goroutines.
type Store interface {
	// Upsert stores doc with its precomputed embedding, replacing any
	// existing document with the same ID. The original CreatedAt survives
	// replacement on backends that track it natively.
	Upsert(ctx context.Context, doc Document, embedding []float32) error

	// Search returns the documents closest to embedding, ordered by
	// descending cosine similarity. An empty store yields an empty slice,
	// not an error.
	Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]Result, error)

	// Delete removes the document with the given ID.
	// Returns ErrNotFound when no such document exists.
	Delete(ctx context.Context, id string) error

	// Count reports the number of stored documents.
	Count(ctx context.Context) (int64, error)

	// Close releases backend resources. The store must not be used after.
	Close() error
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	topK   int
	filter map[string]string
}

// WithTopK sets the maximum number of results to return.
// Values below 1 fall back to DefaultTopK; values above MaxTopK are clamped.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithFilter adds a metadata equality filter to restrict search results.
// Multiple calls to WithFilter add additional filters (AND logic).
// Example: WithFilter("source", "docs/setup.md")
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// buildSearchConfig applies search options and returns the final configuration.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:   DefaultTopK,
		filter: nil,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.topK < 1 {
		cfg.topK = DefaultTopK
	}
	if cfg.topK > MaxTopK {
		cfg.topK = MaxTopK
	}
	return cfg
}

// validateUpsert rejects documents the backends cannot store.
func validateUpsert(doc Document, embedding []float32) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDocument)
	}
	return validateEmbedding(embedding)
}

func validateEmbedding(embedding []float32) error {
	if len(embedding) != Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), Dimension)
	}
	return nil
}

// Open connects the backend named by cfg.VectorStore.
// Callers own the returned Store and must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.VectorStore {
	case config.VectorStoreChromem:
		return NewChromem(cfg.ChromemPath, logger)
	case config.VectorStorePgvector:
		return NewPostgres(ctx, cfg.PostgresConnectionString(), logger)
	default:
		// Config validation rejects unknown names before Open runs.
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownVectorStore, cfg.VectorStore)
	}
}
