package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// collectionName is the single chromem collection holding every document.
const collectionName = "osprey"

// createdAtKey carries the document timestamp inside chromem metadata,
// which has no native timestamp column. The key is stripped from results
// and reserved: user metadata under this key is overwritten on Upsert.
const createdAtKey = "_created_at"

// Chromem stores documents in an embedded chromem-go database persisted
// under a directory. It needs no external services and is the default
// backend for fresh installs.
//
// Chromem is safe for concurrent use by multiple goroutines.
type Chromem struct {
	col    *chromem.Collection
	logger *slog.Logger
}

// NewChromem opens or creates the persistent database at path.
func NewChromem(path string, logger *slog.Logger) (*Chromem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}

	// Embeddings are always precomputed by the caller. A nil embedding
	// func would make chromem fall back to its OpenAI default, so install
	// one that refuses to run instead.
	col, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem collection: %w", err)
	}

	return &Chromem{col: col, logger: logger}, nil
}

func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding function configured: embeddings must be precomputed")
}

// Upsert inserts or replaces a document together with its embedding.
func (c *Chromem) Upsert(ctx context.Context, doc Document, embedding []float32) error {
	if err := validateUpsert(doc, embedding); err != nil {
		return err
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		// Keep the original timestamp when replacing an existing document,
		// matching the pgvector backend's ON CONFLICT behavior.
		if existing, err := c.col.GetByID(ctx, doc.ID); err == nil {
			if prev, parseErr := time.Parse(time.RFC3339, existing.Metadata[createdAtKey]); parseErr == nil {
				createdAt = prev
			}
		}
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	metadata := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata[createdAtKey] = createdAt.UTC().Format(time.RFC3339)

	err := c.col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Metadata:  metadata,
		Embedding: embedding,
		Content:   doc.Content,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert document %q: %w", doc.ID, err)
	}

	c.logger.Debug("upserted document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search performs cosine similarity search, most similar first.
func (c *Chromem) Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]Result, error) {
	if err := validateEmbedding(embedding); err != nil {
		return nil, err
	}
	cfg := buildSearchConfig(opts)

	// chromem rejects result counts beyond the collection size.
	count := c.col.Count()
	if count == 0 {
		return []Result{}, nil
	}
	topK := cfg.topK
	if topK > count {
		topK = count
	}

	var where map[string]string
	if len(cfg.filter) > 0 {
		where = cfg.filter
	}

	hits, err := c.col.QueryEmbedding(ctx, embedding, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Document:   c.toDocument(hit.ID, hit.Content, hit.Metadata),
			Similarity: hit.Similarity,
		})
	}
	return results, nil
}

// toDocument rebuilds a Document from chromem fields, splitting the
// reserved timestamp key out of the stored metadata.
func (c *Chromem) toDocument(id, content string, metadata map[string]string) Document {
	doc := Document{
		ID:       id,
		Content:  content,
		Metadata: make(map[string]string, len(metadata)),
	}
	for k, v := range metadata {
		if k == createdAtKey {
			createdAt, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.logger.Warn("failed to parse document timestamp", "document_id", id, "value", v)
				continue
			}
			doc.CreatedAt = createdAt
			continue
		}
		doc.Metadata[k] = v
	}
	return doc
}

// Delete removes a document. Returns ErrNotFound when no such ID exists.
func (c *Chromem) Delete(ctx context.Context, id string) error {
	if _, err := c.col.GetByID(ctx, id); err != nil {
		return fmt.Errorf("delete document %q: %w", id, ErrNotFound)
	}
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document %q: %w", id, err)
	}

	c.logger.Debug("deleted document", "id", id)
	return nil
}

// Count returns the total number of stored documents.
func (c *Chromem) Count(_ context.Context) (int64, error) {
	return int64(c.col.Count()), nil
}

// Close is a no-op. chromem persists synchronously on every write and
// holds no connections.
func (*Chromem) Close() error {
	return nil
}
