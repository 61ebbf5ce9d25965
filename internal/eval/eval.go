// Package eval scores retrieval quality with an LLM judge. Each sample
// pairs a question with the generated answer and the context passages
// retrieval produced for it; the judge rates every sample per metric on
// a 0 to 10 scale, and the report averages the verdicts into 0.0 to 1.0
// scores. A malformed verdict skips that sample with a warning rather
// than failing the run.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/osprey0/osprey/internal/rag"
)

// Metric identifies one quality dimension the judge scores.
type Metric string

const (
	// MetricFaithfulness measures whether the answer's claims are
	// supported by the retrieved passages.
	MetricFaithfulness Metric = "faithfulness"

	// MetricAnswerRelevancy measures whether the answer addresses the
	// question that was asked.
	MetricAnswerRelevancy Metric = "answer_relevancy"

	// MetricContextPrecision measures how much of the retrieved context
	// is actually relevant to the question.
	MetricContextPrecision Metric = "context_precision"
)

// AllMetrics returns every supported metric in a stable order.
func AllMetrics() []Metric {
	return []Metric{MetricFaithfulness, MetricAnswerRelevancy, MetricContextPrecision}
}

var metricInstructions = map[Metric]string{
	MetricFaithfulness: "You are grading an answer for faithfulness. " +
		"Rate from 0 to 10 how well every claim in the answer is supported by the context passages. " +
		"10 means fully supported, 0 means contradicted or fabricated.",
	MetricAnswerRelevancy: "You are grading an answer for relevancy. " +
		"Rate from 0 to 10 how directly the answer addresses the question. " +
		"10 means it answers exactly what was asked, 0 means it is off topic or evasive.",
	MetricContextPrecision: "You are grading retrieved context for precision. " +
		"Rate from 0 to 10 how much of the context is relevant to the question. " +
		"10 means every passage is on point, 0 means none are.",
}

// Sample is one question/answer pair with the passages retrieval
// supplied for it.
type Sample struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Contexts []string `json:"contexts"`
}

// Report holds the averaged scores of an evaluation run.
type Report struct {
	// Samples is the number of samples in the run.
	Samples int `json:"samples"`

	// Scores maps each metric to its average score between 0.0 and 1.0.
	// A metric with no valid verdicts is absent.
	Scores map[Metric]float64 `json:"scores"`

	// Skipped counts verdicts dropped because the judge failed or
	// returned something unparseable.
	Skipped int `json:"skipped"`
}

// Evaluator drives the judge model over a set of samples.
// It is safe for concurrent use.
type Evaluator struct {
	llm    rag.Generator
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator backed by the given judge model.
func NewEvaluator(llm rag.Generator, logger *slog.Logger) (*Evaluator, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{llm: llm, logger: logger}, nil
}

// Evaluate judges every sample against every metric and averages the
// verdicts. With no metrics given it runs all of them. Judge failures
// and unparseable verdicts skip that sample for that metric; the run
// only aborts on context cancellation.
func (e *Evaluator) Evaluate(ctx context.Context, samples []Sample, metrics ...Metric) (*Report, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to evaluate")
	}
	if len(metrics) == 0 {
		metrics = AllMetrics()
	}
	for _, m := range metrics {
		if _, ok := metricInstructions[m]; !ok {
			return nil, fmt.Errorf("unknown metric %q", m)
		}
	}

	report := &Report{
		Samples: len(samples),
		Scores:  make(map[Metric]float64, len(metrics)),
	}

	for _, m := range metrics {
		var sum float64
		var graded int
		for i, s := range samples {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			verdict, err := e.judge(ctx, m, s)
			if err != nil {
				e.logger.Warn("sample skipped",
					"metric", string(m),
					"sample", i,
					"error", err)
				report.Skipped++
				continue
			}
			sum += verdict
			graded++
		}
		if graded == 0 {
			e.logger.Warn("no valid verdicts for metric", "metric", string(m))
			continue
		}
		report.Scores[m] = sum / float64(graded)
	}

	e.logger.Info("evaluation complete",
		"samples", report.Samples,
		"metrics", len(metrics),
		"skipped", report.Skipped)

	return report, nil
}

func (e *Evaluator) judge(ctx context.Context, m Metric, s Sample) (float64, error) {
	resp, err := e.llm.Generate(ctx, judgePrompt(m, s))
	if err != nil {
		return 0, fmt.Errorf("judge call failed: %w", err)
	}
	return parseVerdict(resp)
}

func judgePrompt(m Metric, s Sample) string {
	var b strings.Builder
	b.WriteString(metricInstructions[m])
	b.WriteString("\n\nQuestion: ")
	b.WriteString(s.Question)
	b.WriteString("\n\nAnswer: ")
	b.WriteString(s.Answer)
	if len(s.Contexts) > 0 {
		b.WriteString("\n\nContext passages:\n")
		for i, c := range s.Contexts {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
	}
	b.WriteString("\nRespond with a single integer from 0 to 10.")
	return b.String()
}

// verdictRE pulls the first 0 to 10 integer out of a judge response, so
// answers like "8", "8/10", or "Score: 8" all parse.
var verdictRE = regexp.MustCompile(`\b(10|[0-9])\b`)

func parseVerdict(resp string) (float64, error) {
	match := verdictRE.FindString(resp)
	if match == "" {
		return 0, fmt.Errorf("no verdict in judge response %q", resp)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("invalid verdict %q: %w", match, err)
	}
	return float64(n) / 10, nil
}

// LoadSamples reads evaluation samples from a JSON file holding an
// array of objects with question, answer, and contexts fields.
func LoadSamples(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in %s", path)
	}
	return samples, nil
}
