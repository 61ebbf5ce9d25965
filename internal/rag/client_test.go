package rag

import (
	"context"
	"testing"

	"github.com/osprey0/osprey/internal/log"
)

var (
	_ Generator = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		model      string
		embedModel string
	}{
		{"missing api key", "", "gemini-2.5-flash", "gemini-embedding-001"},
		{"missing model", "key", "", "gemini-embedding-001"},
		{"missing embedding model", "key", "gemini-2.5-flash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(context.Background(), tt.apiKey, tt.model, tt.embedModel, log.NewNop()); err == nil {
				t.Error("NewClient() expected error, got nil")
			}
		})
	}
}
