package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/osprey0/osprey/internal/vectorstore"
)

// Tool names as registered with MCP clients.
const (
	ToolQuery  = "osprey_query"
	ToolSearch = "osprey_search"
	ToolIndex  = "osprey_index"
)

// QueryInput is the input schema for the osprey_query tool.
type QueryInput struct {
	Question string `json:"question" jsonschema:"The question to answer from the indexed documents"`
}

// SearchInput is the input schema for the osprey_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"The text to search the indexed documents for"`
	TopK  int    `json:"topK,omitempty" jsonschema:"Maximum number of passages to return"`
}

// IndexInput is the input schema for the osprey_index tool.
type IndexInput struct {
	Target string `json:"target" jsonschema:"A file path, directory path, or http(s) URL to index"`
}

func (s *Server) registerTools() error {
	querySchema, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolQuery, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolQuery,
		Description: "Answer a question from the indexed documents. " +
			"Retrieves the most relevant passages and generates an answer grounded in them.",
		InputSchema: querySchema,
	}, s.handleQuery)

	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolSearch, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolSearch,
		Description: "Search the indexed documents by semantic similarity. " +
			"Returns the raw passages without generating an answer.",
		InputSchema: searchSchema,
	}, s.handleSearch)

	indexSchema, err := jsonschema.For[IndexInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolIndex, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolIndex,
		Description: "Index a file, a directory tree, or a web page so its content " +
			"becomes searchable. Paths must lie inside the configured document roots.",
		InputSchema: indexSchema,
	}, s.handleIndex)

	return nil
}

type passagePayload struct {
	ID      string  `json:"id"`
	Source  string  `json:"source,omitempty"`
	Score   float32 `json:"score"`
	Content string  `json:"content"`
}

type queryPayload struct {
	Answer    string           `json:"answer"`
	Rewritten string           `json:"rewritten,omitempty"`
	Sources   []passagePayload `json:"sources"`
}

type searchPayload struct {
	Query    string           `json:"query"`
	Count    int              `json:"count"`
	Passages []passagePayload `json:"passages"`
}

type indexPayload struct {
	Target       string `json:"target"`
	Kind         string `json:"kind"`
	Chunks       int    `json:"chunks"`
	FilesIndexed int    `json:"files_indexed,omitempty"`
	FilesSkipped int    `json:"files_skipped,omitempty"`
	FilesFailed  int    `json:"files_failed,omitempty"`
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, any, error) {
	answer, err := s.pipeline.Answer(ctx, in.Question)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", ToolQuery, "error", err)
		return errorResult(fmt.Sprintf("query failed: %v", err))
	}

	return jsonResult(queryPayload{
		Answer:    answer.Text,
		Rewritten: answer.Rewritten,
		Sources:   toPassagePayloads(answer.Passages),
	})
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	var opts []vectorstore.SearchOption
	if in.TopK > 0 {
		opts = append(opts, vectorstore.WithTopK(in.TopK))
	}

	results, err := s.indexer.Search(ctx, in.Query, opts...)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", ToolSearch, "error", err)
		return errorResult(fmt.Sprintf("search failed: %v", err))
	}

	return jsonResult(searchPayload{
		Query:    in.Query,
		Count:    len(results),
		Passages: toPassagePayloads(results),
	})
}

func (s *Server) handleIndex(ctx context.Context, _ *mcp.CallToolRequest, in IndexInput) (*mcp.CallToolResult, any, error) {
	target := strings.TrimSpace(in.Target)
	if target == "" {
		return errorResult("target is required")
	}

	if strings.Contains(target, "://") {
		chunks, err := s.indexer.IndexURL(ctx, target)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", ToolIndex, "target", target, "error", err)
			return errorResult(fmt.Sprintf("indexing failed: %v", err))
		}
		return jsonResult(indexPayload{Target: target, Kind: "url", Chunks: chunks})
	}

	info, err := os.Stat(target)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot stat %s: %v", target, err))
	}

	if info.IsDir() {
		result, err := s.indexer.IndexDir(ctx, target)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", ToolIndex, "target", target, "error", err)
			return errorResult(fmt.Sprintf("indexing failed: %v", err))
		}
		return jsonResult(indexPayload{
			Target:       target,
			Kind:         "directory",
			Chunks:       result.Chunks,
			FilesIndexed: result.FilesIndexed,
			FilesSkipped: result.FilesSkipped,
			FilesFailed:  result.FilesFailed,
		})
	}

	chunks, err := s.indexer.IndexFile(ctx, target)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", ToolIndex, "target", target, "error", err)
		return errorResult(fmt.Sprintf("indexing failed: %v", err))
	}
	return jsonResult(indexPayload{Target: target, Kind: "file", Chunks: chunks, FilesIndexed: 1})
}

func toPassagePayloads(results []vectorstore.Result) []passagePayload {
	out := make([]passagePayload, len(results))
	for i, r := range results {
		out[i] = passagePayload{
			ID:      r.Document.ID,
			Source:  r.Document.Metadata["source"],
			Score:   r.Similarity,
			Content: r.Document.Content,
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

// errorResult reports a tool failure as an error result rather than a
// protocol error, so the calling model can read it and adjust.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
