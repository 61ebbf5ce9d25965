package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/osprey0/osprey/internal/config"
)

// These tests share the global Viper and slog state through
// config.Load and must not run in parallel.

// isolateHome points HOME at a fresh directory and neutralizes the
// environment overrides so each test sees default configuration plus
// a placeholder API key.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GEMINI_API_KEY", "test-api-key")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OSPREY_MODEL", "")
	t.Setenv("OSPREY_EMBEDDING_MODEL", "")
	t.Setenv("OSPREY_VECTOR_STORE", "")
	t.Setenv("OSPREY_PLUGINS_DIR", "")
	t.Setenv("OSPREY_TELEMETRY_ENABLED", "")
	return home
}

// runOsprey builds a fresh command tree and executes it with the
// given stdin and arguments. Configuration loads when the tree is
// built, so isolateHome must run first.
func runOsprey(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand(strings.NewReader(stdin), &out, &errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	isolateHome(t)

	out, _, err := runOsprey(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "osprey dev") {
		t.Errorf("output missing version line: %q", out)
	}
	if !strings.Contains(out, "commit none") {
		t.Errorf("output missing commit: %q", out)
	}
}

func TestVersionFlag(t *testing.T) {
	isolateHome(t)

	out, _, err := runOsprey(t, "", "--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.Contains(out, "version dev") {
		t.Errorf("unexpected --version output: %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	isolateHome(t)

	_, _, err := runOsprey(t, "", "frobnicate")
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}

// A missing API key must not block commands that never call the
// model; commands that do call it surface the configuration error.
func TestMissingAPIKeyDeferred(t *testing.T) {
	isolateHome(t)
	t.Setenv("GEMINI_API_KEY", "")

	out, _, err := runOsprey(t, "", "config", "show")
	if err != nil {
		t.Fatalf("config show without API key: %v", err)
	}
	if !strings.Contains(out, `"model"`) {
		t.Errorf("config show output missing model field: %q", out)
	}

	_, _, err = runOsprey(t, "", "ask", "anything")
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("ask without API key: got %v, want ErrMissingAPIKey", err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"lowercase y", "y\n", true},
		{"yes", "yes\n", true},
		{"uppercase", "YES\n", true},
		{"padded", "  y  \n", true},
		{"n", "n\n", false},
		{"empty line defaults to no", "\n", false},
		{"closed stream defaults to no", "", false},
		{"anything else", "sure\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{
				stdin:  bufio.NewReader(strings.NewReader(tt.input)),
				stderr: io.Discard,
			}
			got, err := a.confirm("Proceed?")
			if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if got != tt.want {
				t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
