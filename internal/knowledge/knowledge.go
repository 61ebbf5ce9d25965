// Package knowledge turns files, directories, and web pages into indexed,
// searchable document chunks.
//
// The Indexer splits content into overlapping chunks, embeds them through
// the configured Embedder, and persists them in a vectorstore.Store. Chunk
// IDs are deterministic per source, so re-indexing a source replaces its
// previous chunks instead of accumulating duplicates.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osprey0/osprey/internal/config"
	"github.com/osprey0/osprey/internal/security"
	"github.com/osprey0/osprey/internal/vectorstore"
)

// Source type constants for indexed documents.
const (
	// SourceTypeFile marks content indexed from the local filesystem.
	SourceTypeFile = "file"

	// SourceTypeURL marks content extracted from a web page.
	SourceTypeURL = "url"
)

// Embedder turns text into embedding vectors. Satisfied by rag.Client and
// by plugin-backed embedders.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer ingests sources into the vector store and serves searches over
// them.
//
// Indexer is safe for concurrent use by multiple goroutines.
type Indexer struct {
	store      vectorstore.Store
	embedder   Embedder
	paths      *security.Path
	web        urlValidator
	client     *http.Client
	chunker    *Chunker
	extensions map[string]bool
	logger     *slog.Logger
}

// NewIndexer creates an Indexer restricted to cfg.Roots.
//
// Files outside the configured document roots are rejected before any read:
// the roots are the boundary of what the assistant may ingest, the same
// boundary the plugin sandbox enforces for plugin file access.
func NewIndexer(store vectorstore.Store, embedder Embedder, cfg config.DocumentsConfig, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	paths, err := security.NewPath(cfg.Roots)
	if err != nil {
		return nil, fmt.Errorf("failed to build path validator: %w", err)
	}

	extensions := make(map[string]bool, len(defaultSupportedExtensions))
	for ext, ok := range defaultSupportedExtensions {
		extensions[ext] = ok
	}

	// The transport re-checks resolved IPs at dial time, so a hostname that
	// passes static validation cannot rebind to a private address later.
	web := security.NewURL()
	client := &http.Client{
		Transport:     web.SafeTransport(),
		CheckRedirect: web.ValidateRedirect,
		Timeout:       30 * time.Second,
	}

	return &Indexer{
		store:      store,
		embedder:   embedder,
		paths:      paths,
		web:        web,
		client:     client,
		chunker:    NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		extensions: extensions,
		logger:     logger,
	}, nil
}

// Search embeds the query and returns the most similar indexed chunks.
func (idx *Indexer) Search(ctx context.Context, query string, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	embeddings, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned for query")
	}

	return idx.store.Search(ctx, embeddings[0], opts...)
}

// Remove deletes every chunk of a source and reports how many it removed.
// The source must match the path or URL originally indexed; local paths
// are re-canonicalized the same way IndexFile canonicalizes them.
// Returns vectorstore.ErrNotFound when the source has no chunks.
func (idx *Indexer) Remove(ctx context.Context, source string) (int, error) {
	source = idx.normalizeSource(source)

	removed := 0
	for i := 0; ; i++ {
		err := idx.store.Delete(ctx, chunkID(source, i))
		if errors.Is(err, vectorstore.ErrNotFound) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("failed to remove chunk %d of %s: %w", i, source, err)
		}
		removed++
	}

	if removed == 0 {
		return 0, fmt.Errorf("source %s: %w", source, vectorstore.ErrNotFound)
	}

	idx.logger.Info("removed source", "source", source, "chunks", removed)
	return removed, nil
}

// Stats summarizes the index contents.
type Stats struct {
	Documents int64 // stored chunks across all sources
}

// Stats reports index statistics.
func (idx *Indexer) Stats(ctx context.Context) (*Stats, error) {
	count, err := idx.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	return &Stats{Documents: count}, nil
}

// indexContent chunks, embeds, and stores one source's content, then prunes
// chunks left over from a longer previous version. Returns the chunk count.
func (idx *Indexer) indexContent(ctx context.Context, source, sourceType, content string, extra map[string]string) (int, error) {
	chunks := idx.chunker.Split(content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no indexable content in %s", source)
	}

	embeddings, err := idx.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", source, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	now := time.Now()
	for i, chunk := range chunks {
		metadata := map[string]string{
			"source":      source,
			"source_type": sourceType,
			"chunk":       strconv.Itoa(i),
			"indexed_at":  now.UTC().Format(time.RFC3339),
		}
		for k, v := range extra {
			metadata[k] = v
		}

		doc := vectorstore.Document{
			ID:       chunkID(source, i),
			Content:  chunk,
			Metadata: metadata,
		}
		if err := idx.store.Upsert(ctx, doc, embeddings[i]); err != nil {
			return i, fmt.Errorf("failed to store chunk %d of %s: %w", i, source, err)
		}
	}

	idx.pruneStaleChunks(ctx, source, len(chunks))

	idx.logger.Debug("indexed source", "source", source, "type", sourceType, "chunks", len(chunks))
	return len(chunks), nil
}

// pruneStaleChunks removes chunks beyond the new count left over from a
// longer previous version of the source. Chunks are always written
// contiguously from zero, so deletion stops at the first missing index.
func (idx *Indexer) pruneStaleChunks(ctx context.Context, source string, from int) {
	for i := from; ; i++ {
		err := idx.store.Delete(ctx, chunkID(source, i))
		if errors.Is(err, vectorstore.ErrNotFound) {
			return
		}
		if err != nil {
			idx.logger.Warn("failed to prune stale chunk", "source", source, "chunk", i, "error", err)
			return
		}
	}
}

// normalizeSource canonicalizes local paths so Remove agrees with the IDs
// IndexFile produced. URLs pass through unchanged.
func (idx *Indexer) normalizeSource(source string) string {
	if strings.Contains(source, "://") {
		return source
	}
	abs, err := filepath.Abs(filepath.Clean(source))
	if err != nil {
		return source
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// docID derives the stable identifier for a source (uuid5 of the canonical
// source string).
func docID(source string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
}

// chunkID appends the chunk index to the source's document ID, keeping IDs
// deterministic so re-indexing overwrites in place.
func chunkID(source string, n int) string {
	return docID(source) + "#" + strconv.Itoa(n)
}
