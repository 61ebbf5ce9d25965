package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/osprey0/osprey/internal/log"
)

func TestRewrite(t *testing.T) {
	gen := &fakeGenerator{queue: []genResult{
		{text: "  Goroutines are lightweight threads managed by the runtime.  "},
	}}
	r := NewRewriter(gen, log.NewNop())

	got := r.Rewrite(context.Background(), "what are goroutines?")
	if want := "Goroutines are lightweight threads managed by the runtime."; got != want {
		t.Errorf("Rewrite() = %q, want %q", got, want)
	}
	if prompt := gen.prompt(t, 0); !strings.Contains(prompt, "what are goroutines?") {
		t.Errorf("rewrite prompt %q does not contain the question", prompt)
	}
}

func TestRewriteFallsBackOnError(t *testing.T) {
	gen := &fakeGenerator{queue: []genResult{
		{err: errors.New("model unavailable")},
	}}
	r := NewRewriter(gen, log.NewNop())

	if got, want := r.Rewrite(context.Background(), "what are goroutines?"), "what are goroutines?"; got != want {
		t.Errorf("Rewrite() = %q, want the raw question %q", got, want)
	}
}

func TestRewriteFallsBackOnEmptyResponse(t *testing.T) {
	gen := &fakeGenerator{queue: []genResult{
		{text: "   \n  "},
	}}
	r := NewRewriter(gen, log.NewNop())

	if got, want := r.Rewrite(context.Background(), "what are goroutines?"), "what are goroutines?"; got != want {
		t.Errorf("Rewrite() = %q, want the raw question %q", got, want)
	}
}
