// Package consent records user decisions about plugin permissions.
//
// The permission registry answers "is it allowed right now"; this
// package keeps the durable history of who said yes or no, and owns the
// interactive prompt through which a grant is ever asked for. Nothing
// here grants implicitly. A session without a terminal denies, and a
// denial is recorded so the question is not silently retried on every
// load.
package consent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/osprey0/osprey/internal/permission"
)

// ErrNotGranted is returned when revoking a consent that was never
// granted.
var ErrNotGranted = errors.New("consent not granted")

// Status is the lifecycle state of one consent decision.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusRevoked Status = "revoked"
)

// Record is one durable user decision about one plugin permission.
type Record struct {
	Plugin     string          `json:"plugin"`
	Permission permission.Type `json:"permission"`
	Status     Status          `json:"status"`
	DecidedAt  time.Time       `json:"decided_at"`
	User       string          `json:"user"`
	Note       string          `json:"note,omitempty"`
}

// Request carries everything a prompt needs to ask one question.
type Request struct {
	Plugin      string
	Version     string
	Permission  permission.Type
	Description string
}

// Prompter asks the user one yes/no consent question. Implementations
// must treat anything other than an explicit yes as a refusal.
type Prompter interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

// TerminalPrompter asks on a terminal. Only "y" or "yes"
// (case-insensitive) grants; an empty line, any other answer, or a
// closed input stream refuses.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter wraps the given streams. Typically in is
// os.Stdin and out is os.Stderr so prompts survive stdout redirection.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Confirm writes the consent question and reads one line of answer.
func (p *TerminalPrompter) Confirm(ctx context.Context, req Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "Plugin %q (v%s) requests permission:\n\n", req.Plugin, req.Version)
	fmt.Fprintf(p.out, "  %s", req.Permission)
	if req.Description != "" {
		fmt.Fprintf(p.out, "  (%s)", req.Description)
	}
	fmt.Fprint(p.out, "\n\nGrant this permission? [y/N]: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Closed stdin is a refusal, not a failure.
			fmt.Fprintln(p.out)
			return false, nil
		}
		return false, fmt.Errorf("reading consent answer: %w", err)
	}

	ans := strings.ToLower(strings.TrimSpace(line))
	return ans == "y" || ans == "yes", nil
}
