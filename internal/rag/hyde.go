package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// hydePrompt asks the model for a hypothetical document: a passage
// written as if it answered the question, which usually lands closer to
// real documents in embedding space than the bare question does.
const hydePrompt = `Write a short passage of two or three sentences that directly answers the question below, phrased the way a relevant document would state it. Respond with the passage only, no preamble.

Question: %s`

// Rewriter expands a question into a hypothetical answer document for
// retrieval. Failures degrade to the raw question, so retrieval keeps
// working when the model does not.
type Rewriter struct {
	generator Generator
	logger    *slog.Logger
}

// NewRewriter creates a Rewriter.
func NewRewriter(generator Generator, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{generator: generator, logger: logger}
}

// Rewrite returns the retrieval query for a question: the generated
// hypothetical document, or the question itself when generation fails or
// comes back empty.
func (r *Rewriter) Rewrite(ctx context.Context, question string) string {
	doc, err := r.generator.Generate(ctx, fmt.Sprintf(hydePrompt, question))
	if err != nil {
		r.logger.Warn("query rewrite failed, retrieving with the raw question", "error", err)
		return question
	}

	doc = strings.TrimSpace(doc)
	if doc == "" {
		r.logger.Warn("query rewrite returned empty text, retrieving with the raw question")
		return question
	}

	r.logger.Debug("rewrote question for retrieval", "question_len", len(question), "document_len", len(doc))
	return doc
}
