// Package mcp exposes the assistant over the Model Context Protocol:
// a stdio server with tools for answering questions, searching the
// index, and indexing new documents, so agent runtimes and editors can
// drive the assistant without the CLI.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/osprey0/osprey/internal/knowledge"
	"github.com/osprey0/osprey/internal/rag"
	"github.com/osprey0/osprey/internal/vectorstore"
)

// Answerer is the slice of the RAG pipeline the query tool depends on.
// Satisfied by *rag.Pipeline.
type Answerer interface {
	Answer(ctx context.Context, question string) (*rag.Answer, error)
}

// DocumentIndexer is the slice of the knowledge indexer the search and
// index tools depend on. Satisfied by *knowledge.Indexer.
type DocumentIndexer interface {
	IndexFile(ctx context.Context, path string) (int, error)
	IndexDir(ctx context.Context, dir string) (*knowledge.IndexResult, error)
	IndexURL(ctx context.Context, rawURL string) (int, error)
	Search(ctx context.Context, query string, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error)
}

// Config holds the identity and dependencies of the MCP server.
type Config struct {
	Name     string
	Version  string
	Logger   *slog.Logger
	Pipeline Answerer
	Indexer  DocumentIndexer
}

// Server wraps the MCP SDK server around the RAG pipeline and the
// document indexer.
type Server struct {
	mcpServer *mcp.Server
	pipeline  Answerer
	indexer   DocumentIndexer
	logger    *slog.Logger
}

// NewServer creates an MCP server with all tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		pipeline: cfg.Pipeline,
		indexer:  cfg.Indexer,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the server on the given transport and blocks until the
// context is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// Serve runs an MCP server over stdio until ctx is cancelled.
func Serve(ctx context.Context, cfg Config) error {
	s, err := NewServer(cfg)
	if err != nil {
		return err
	}
	return s.Run(ctx, &mcp.StdioTransport{})
}
