// Package plugin loads, gates, and runs osprey plugins.
//
// Plugins come in two shapes. In-process plugins (embedder, retriever,
// processor) are Go constructors registered at init time through the
// capability registry in factory.go; the RAG pipeline consumes them
// through the interfaces below. Subprocess plugins (type command) ship
// an executable next to their manifest and run inside the sandbox.
//
// Either way, nothing runs before the Manager's gate sequence has
// passed: manifest validation, permission registration, user consent,
// and an integrity record for subprocess entrypoints. Every gate
// decision lands in the audit trail.
package plugin

import "context"

// Metadata identifies a plugin instance.
type Metadata struct {
	Name        string
	Version     string
	Type        string
	Description string
	Author      string
}

// Plugin is the lifecycle contract every in-process capability shares.
// Initialize is called once before first use; Shutdown releases
// whatever Initialize acquired.
type Plugin interface {
	Metadata() Metadata
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Embedder turns texts into vectors.
type Embedder interface {
	Plugin
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches passages for a query.
type Retriever interface {
	Plugin
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Processor transforms retrieved passages: rerank, dedupe, enrich.
type Processor interface {
	Plugin
	Process(ctx context.Context, passages []Passage) ([]Passage, error)
}

// Command is the in-process form of a command plugin. Most command
// plugins are subprocess executables run through Manager.Execute
// instead; this interface exists for builtins that want command
// semantics without leaving the process.
type Command interface {
	Plugin
	Run(ctx context.Context, args []string) (string, error)
}

// Passage is one retrieved chunk of context.
type Passage struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float32
}
