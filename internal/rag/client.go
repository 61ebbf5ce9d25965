// Package rag answers questions over indexed documents: a Gemini client
// for generation and embeddings, a hypothetical-document query rewriter,
// and the retrieval pipeline that assembles grounded answers.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/osprey0/osprey/internal/vectorstore"
)

// Generator produces text from a prompt. Satisfied by *Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns texts into embedding vectors. Satisfied by *Client and
// by embedder plugins; downstream code depends on this, not on Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client wraps the Gemini API for generation and embeddings.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	genc       *genai.Client
	model      string
	embedModel string
	logger     *slog.Logger
}

// NewClient creates a Gemini client for the given generation and
// embedding models.
func NewClient(ctx context.Context, apiKey, model, embedModel string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("generation model is required")
	}
	if embedModel == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	genc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		genc:       genc,
		model:      model,
		embedModel: embedModel,
		logger:     logger,
	}, nil
}

// Generate produces a completion for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	content := genai.NewContentFromText(prompt, genai.RoleUser)

	resp, err := c.genc.Models.GenerateContent(ctx, c.model, []*genai.Content{content}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("model returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("model returned no text content")
	}

	c.logger.Debug("generated completion", "model", c.model, "prompt_len", len(prompt), "response_len", b.Len())
	return b.String(), nil
}

// Embed returns one vectorstore.Dimension-sized vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := int32(vectorstore.Dimension)
	resp, err := c.genc.Models.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("model returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
