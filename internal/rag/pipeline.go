package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/osprey0/osprey/internal/plugin"
	"github.com/osprey0/osprey/internal/security"
	"github.com/osprey0/osprey/internal/vectorstore"
)

// Searcher retrieves indexed passages for a query text. Satisfied by
// *knowledge.Indexer.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error)
}

// Reranker reorders retrieved passages before they reach the prompt.
// Satisfied by processor plugins.
type Reranker interface {
	Process(ctx context.Context, passages []plugin.Passage) ([]plugin.Passage, error)
}

// Answer is a generated response together with the passages that
// grounded it.
type Answer struct {
	Text      string
	Passages  []vectorstore.Result
	Rewritten string // hypothetical document used for retrieval, empty when the raw question was used
}

// Pipeline answers questions over the indexed documents: rewrite the
// question, retrieve passages, screen and optionally rerank them, then
// generate a grounded answer.
//
// Pipeline is safe for concurrent use by multiple goroutines.
type Pipeline struct {
	generator Generator
	rewriter  *Rewriter
	searcher  Searcher
	reranker  Reranker
	prompts   *security.PromptValidator
	topK      int
	rewrite   bool
	logger    *slog.Logger
	tracer    trace.Tracer
}

// PipelineOption configures optional Pipeline behavior.
type PipelineOption func(*Pipeline)

// WithReranker routes retrieved passages through a processor before
// prompting. Reranker failures keep the retrieval order.
func WithReranker(r Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithTopK sets how many passages are retrieved per question.
func WithTopK(k int) PipelineOption {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithRewriting toggles the hypothetical document rewriting step.
// When disabled, retrieval uses the raw question.
func WithRewriting(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.rewrite = enabled }
}

// NewPipeline creates a Pipeline.
func NewPipeline(generator Generator, searcher Searcher, logger *slog.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		generator: generator,
		rewriter:  NewRewriter(generator, logger),
		searcher:  searcher,
		prompts:   security.NewPromptValidator(),
		topK:      vectorstore.DefaultTopK,
		rewrite:   true,
		logger:    logger,
		tracer:    otel.Tracer("osprey/rag"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Answer responds to a question using the indexed documents.
func (p *Pipeline) Answer(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	ctx, span := p.tracer.Start(ctx, "osprey.rag.answer")
	defer span.End()

	query := question
	if p.rewrite {
		query = p.rewriter.Rewrite(ctx, question)
	}

	results, err := p.searcher.Search(ctx, query, vectorstore.WithTopK(p.topK))
	if err != nil {
		span.SetAttributes(attribute.String("rag.status", "search_failed"))
		return nil, fmt.Errorf("failed to retrieve passages: %w", err)
	}

	results = p.screen(results)

	if p.reranker != nil && len(results) > 0 {
		results = p.rerank(ctx, results)
	}

	span.SetAttributes(
		attribute.Int("rag.passages", len(results)),
		attribute.Bool("rag.rewritten", query != question),
	)

	text, err := p.generator.Generate(ctx, buildAnswerPrompt(question, results))
	if err != nil {
		span.SetAttributes(attribute.String("rag.status", "generate_failed"))
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer := &Answer{
		Text:     strings.TrimSpace(text),
		Passages: results,
	}
	if query != question {
		answer.Rewritten = query
	}
	return answer, nil
}

// screen drops passages that look like prompt injection attempts.
// Indexed documents are untrusted input; a passage instructing the model
// to ignore its rules must never reach the synthesis prompt.
func (p *Pipeline) screen(results []vectorstore.Result) []vectorstore.Result {
	kept := make([]vectorstore.Result, 0, len(results))
	for _, res := range results {
		if check := p.prompts.Validate(res.Document.Content); !check.Safe {
			p.logger.Warn("passage dropped before prompting",
				"id", res.Document.ID,
				"source", res.Document.Metadata["source"],
				"patterns", len(check.Patterns),
				"security_event", "prompt_injection_blocked")
			continue
		}
		kept = append(kept, res)
	}
	return kept
}

// rerank passes results through the processor plugin. On failure the
// retrieval order is kept; reranking improves answers, it must not break
// them.
func (p *Pipeline) rerank(ctx context.Context, results []vectorstore.Result) []vectorstore.Result {
	passages := make([]plugin.Passage, len(results))
	for i, res := range results {
		passages[i] = plugin.Passage{
			ID:       res.Document.ID,
			Content:  res.Document.Content,
			Metadata: res.Document.Metadata,
			Score:    res.Similarity,
		}
	}

	processed, err := p.reranker.Process(ctx, passages)
	if err != nil || len(processed) == 0 {
		p.logger.Warn("reranker failed, keeping retrieval order", "error", err)
		return results
	}

	out := make([]vectorstore.Result, len(processed))
	for i, passage := range processed {
		out[i] = vectorstore.Result{
			Document: vectorstore.Document{
				ID:       passage.ID,
				Content:  passage.Content,
				Metadata: passage.Metadata,
			},
			Similarity: passage.Score,
		}
	}
	return out
}

// buildAnswerPrompt lays the question over numbered passages so the model
// can cite them.
func buildAnswerPrompt(question string, results []vectorstore.Result) string {
	var b strings.Builder
	b.WriteString("You are a documentation assistant. Answer the question using only the numbered passages below. Cite passage numbers like [1] where they support the answer. If the passages do not contain the answer, say so plainly instead of guessing.\n\n")

	if len(results) == 0 {
		b.WriteString("No passages were retrieved.\n")
	}
	for i, res := range results {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, res.Document.Content)
	}

	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}
