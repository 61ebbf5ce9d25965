package eval

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osprey0/osprey/internal/log"
)

// judgeFunc adapts a function into the generator the evaluator expects.
type judgeFunc func(prompt string) (string, error)

func (f judgeFunc) Generate(_ context.Context, prompt string) (string, error) {
	return f(prompt)
}

func newTestEvaluator(t *testing.T, judge judgeFunc) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(judge, log.NewNop())
	if err != nil {
		t.Fatalf("NewEvaluator() unexpected error: %v", err)
	}
	return e
}

var testSamples = []Sample{
	{
		Question: "How are documents chunked?",
		Answer:   "Into overlapping rune windows.",
		Contexts: []string{"Chunking splits content into rune windows with overlap."},
	},
	{
		Question: "Where do chunk IDs come from?",
		Answer:   "They are derived from the source path.",
		Contexts: []string{"Chunk IDs hash the canonical source and append the chunk index."},
	},
}

func TestNewEvaluatorValidation(t *testing.T) {
	if _, err := NewEvaluator(nil, log.NewNop()); err == nil {
		t.Error("NewEvaluator(nil llm) expected error, got nil")
	}
}

func TestEvaluate(t *testing.T) {
	judge := judgeFunc(func(prompt string) (string, error) {
		if strings.Contains(prompt, "faithfulness") {
			return "8", nil
		}
		return "Score: 6/10", nil
	})
	e := newTestEvaluator(t, judge)

	report, err := e.Evaluate(context.Background(), testSamples, MetricFaithfulness, MetricAnswerRelevancy)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}

	if got, want := report.Samples, 2; got != want {
		t.Errorf("Samples = %d, want %d", got, want)
	}
	if got, want := report.Skipped, 0; got != want {
		t.Errorf("Skipped = %d, want %d", got, want)
	}
	if got, want := report.Scores[MetricFaithfulness], 0.8; math.Abs(got-want) > 1e-9 {
		t.Errorf("Scores[faithfulness] = %v, want %v", got, want)
	}
	if got, want := report.Scores[MetricAnswerRelevancy], 0.6; math.Abs(got-want) > 1e-9 {
		t.Errorf("Scores[answer_relevancy] = %v, want %v", got, want)
	}
}

func TestEvaluateDefaultsToAllMetrics(t *testing.T) {
	e := newTestEvaluator(t, func(string) (string, error) { return "5", nil })

	report, err := e.Evaluate(context.Background(), testSamples)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	for _, m := range AllMetrics() {
		if _, ok := report.Scores[m]; !ok {
			t.Errorf("Scores missing metric %q", m)
		}
	}
}

func TestEvaluateUnknownMetric(t *testing.T) {
	e := newTestEvaluator(t, func(string) (string, error) { return "5", nil })

	if _, err := e.Evaluate(context.Background(), testSamples, Metric("vibes")); err == nil {
		t.Error("Evaluate(unknown metric) expected error, got nil")
	}
}

func TestEvaluateNoSamples(t *testing.T) {
	e := newTestEvaluator(t, func(string) (string, error) { return "5", nil })

	if _, err := e.Evaluate(context.Background(), nil); err == nil {
		t.Error("Evaluate(no samples) expected error, got nil")
	}
}

func TestEvaluateSkipsMalformedVerdicts(t *testing.T) {
	e := newTestEvaluator(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "How are documents chunked?") {
			return "I cannot rate this.", nil
		}
		return "9", nil
	})

	report, err := e.Evaluate(context.Background(), testSamples, MetricFaithfulness)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if got, want := report.Skipped, 1; got != want {
		t.Errorf("Skipped = %d, want %d", got, want)
	}
	if got, want := report.Scores[MetricFaithfulness], 0.9; math.Abs(got-want) > 1e-9 {
		t.Errorf("Scores[faithfulness] = %v, want the lone valid verdict %v", got, want)
	}
}

func TestEvaluateJudgeFailuresNeverAbort(t *testing.T) {
	e := newTestEvaluator(t, func(string) (string, error) {
		return "", errors.New("model unavailable")
	})

	report, err := e.Evaluate(context.Background(), testSamples, MetricFaithfulness)
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if got, want := report.Skipped, len(testSamples); got != want {
		t.Errorf("Skipped = %d, want %d", got, want)
	}
	if _, ok := report.Scores[MetricFaithfulness]; ok {
		t.Error("Scores contains a metric with no valid verdicts")
	}
}

func TestEvaluateHonorsContext(t *testing.T) {
	e := newTestEvaluator(t, func(string) (string, error) { return "5", nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Evaluate(ctx, testSamples); !errors.Is(err, context.Canceled) {
		t.Errorf("Evaluate() error = %v, want context.Canceled", err)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		resp    string
		want    float64
		wantErr bool
	}{
		{"8", 0.8, false},
		{" 10 ", 1.0, false},
		{"7/10", 0.7, false},
		{"Score: 3", 0.3, false},
		{"0", 0, false},
		{"I would rate this a 6.", 0.6, false},
		{"no idea", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseVerdict(tt.resp)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseVerdict(%q) expected error, got %v", tt.resp, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVerdict(%q) unexpected error: %v", tt.resp, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseVerdict(%q) = %v, want %v", tt.resp, got, tt.want)
		}
	}
}

func TestJudgePromptIncludesSample(t *testing.T) {
	s := Sample{
		Question: "What is indexed?",
		Answer:   "Files and URLs.",
		Contexts: []string{"Files are walked.", "URLs are fetched."},
	}

	prompt := judgePrompt(MetricContextPrecision, s)
	for _, want := range []string{
		"What is indexed?",
		"Files and URLs.",
		"[1] Files are walked.",
		"[2] URLs are fetched.",
		"single integer from 0 to 10",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("judgePrompt() missing %q:\n%s", want, prompt)
		}
	}
}

func TestLoadSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.json")
	data := `[
		{"question": "q1", "answer": "a1", "contexts": ["c1", "c2"]},
		{"question": "q2", "answer": "a2", "contexts": []}
	]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() unexpected error: %v", err)
	}

	samples, err := LoadSamples(path)
	if err != nil {
		t.Fatalf("LoadSamples() unexpected error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("LoadSamples() returned %d samples, want 2", len(samples))
	}
	if got, want := samples[0].Question, "q1"; got != want {
		t.Errorf("samples[0].Question = %q, want %q", got, want)
	}
	if got, want := len(samples[0].Contexts), 2; got != want {
		t.Errorf("samples[0] has %d contexts, want %d", got, want)
	}
}

func TestLoadSamplesErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadSamples(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadSamples(missing) expected error, got nil")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile() unexpected error: %v", err)
	}
	if _, err := LoadSamples(bad); err == nil {
		t.Error("LoadSamples(bad json) expected error, got nil")
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("[]"), 0o600); err != nil {
		t.Fatalf("WriteFile() unexpected error: %v", err)
	}
	if _, err := LoadSamples(empty); err == nil {
		t.Error("LoadSamples(empty array) expected error, got nil")
	}
}
