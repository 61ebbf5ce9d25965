package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osprey0/osprey/internal/statefile"
)

// Logger appends events to a JSONL audit trail. Writes open the file,
// append one line, and close; O_APPEND keeps lines whole even when two
// processes share the trail. There is no rotation; Prune is the only
// way the file shrinks.
type Logger struct {
	path string
	slog *slog.Logger
	user string

	mu sync.Mutex
}

// New prepares an audit logger writing to path. The parent directory
// is created; the file itself appears on first write.
func New(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), statefile.DirMode); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return &Logger{path: path, slog: logger, user: auditUsername()}, nil
}

func auditUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// Log appends one event. ID, Time, and User are filled when zero, and
// Details is sanitized. Log never returns an error: an unwritable
// audit trail must not take the assistant down, so failures go to slog
// and the event is dropped. Security decisions are made before Log is
// called and never depend on the write having succeeded.
func (l *Logger) Log(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.User == "" {
		e.User = l.user
	}
	e.Details = SanitizeDetails(e.Details)

	line, err := json.Marshal(e)
	if err != nil {
		l.slog.ErrorContext(ctx, "dropping unserializable audit event",
			"type", e.Type, "plugin", e.Plugin, "error", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, statefile.FileMode)
	if err != nil {
		l.slog.ErrorContext(ctx, "cannot open audit trail",
			"type", e.Type, "plugin", e.Plugin, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		l.slog.ErrorContext(ctx, "cannot append to audit trail",
			"type", e.Type, "plugin", e.Plugin, "error", err)
	}
}

// queryOptions collects Events filters.
type queryOptions struct {
	typ    EventType
	plugin string
	since  time.Time
	limit  int
}

// QueryOption narrows an Events read.
type QueryOption func(*queryOptions)

// WithType keeps only events of the given type.
func WithType(t EventType) QueryOption {
	return func(o *queryOptions) { o.typ = t }
}

// WithPlugin keeps only events for the given plugin.
func WithPlugin(name string) QueryOption {
	return func(o *queryOptions) { o.plugin = name }
}

// Since keeps only events at or after t.
func Since(t time.Time) QueryOption {
	return func(o *queryOptions) { o.since = t }
}

// WithLimit keeps only the most recent n matching events.
func WithLimit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

// Events reads the trail back through SafeUnmarshal. Lines that are
// malformed, over the caps, or carry an off-catalog type are dropped
// and counted, never partially parsed; one summary warning reports the
// count. A missing trail is an empty result.
func (l *Logger) Events(opts ...QueryOption) ([]Event, error) {
	var q queryOptions
	for _, opt := range opts {
		opt(&q)
	}

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()

	var (
		events  []Event
		dropped int
	)
	err = forEachLine(f, func(line []byte, overflow bool) {
		if overflow {
			dropped++
			return
		}
		e, ok := decodeLine(line)
		if !ok {
			dropped++
			return
		}
		if q.typ != "" && e.Type != q.typ {
			return
		}
		if q.plugin != "" && e.Plugin != q.plugin {
			return
		}
		if !q.since.IsZero() && e.Time.Before(q.since) {
			return
		}
		events = append(events, e)
	})
	if err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}

	if dropped > 0 {
		l.slog.Warn("dropped unreadable audit records",
			"count", dropped,
			"security_event", "audit_records_dropped")
	}

	if q.limit > 0 && len(events) > q.limit {
		events = events[len(events)-q.limit:]
	}
	return events, nil
}

// Prune rewrites the trail keeping only events newer than olderThan.
// Unreadable lines are dropped here too and counted. The rewrite goes
// through a temp file and rename so a crash leaves either the old or
// the new trail, never a half-written one.
func (l *Logger) Prune(olderThan time.Duration) (kept, dropped int, err error) {
	cutoff := time.Now().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()

	err = statefile.WithLock(l.path, func() error {
		f, err := os.Open(l.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("opening audit trail: %w", err)
		}
		defer f.Close()

		tmp, err := os.CreateTemp(filepath.Dir(l.path), ".audit-prune-*")
		if err != nil {
			return fmt.Errorf("creating prune temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		w := bufio.NewWriter(tmp)
		lineErr := forEachLine(f, func(line []byte, overflow bool) {
			if overflow {
				dropped++
				return
			}
			e, ok := decodeLine(line)
			if !ok {
				dropped++
				return
			}
			if !e.Time.After(cutoff) {
				return
			}
			// Keep the original bytes; re-marshaling could reorder or
			// reshape a record we merely inspected.
			w.Write(line)
			w.WriteByte('\n')
			kept++
		})
		if lineErr != nil {
			tmp.Close()
			return fmt.Errorf("reading audit trail: %w", lineErr)
		}
		if err := w.Flush(); err != nil {
			tmp.Close()
			return fmt.Errorf("writing pruned trail: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("closing pruned trail: %w", err)
		}
		if err := os.Chmod(tmp.Name(), statefile.FileMode); err != nil {
			return fmt.Errorf("setting pruned trail mode: %w", err)
		}
		if err := os.Rename(tmp.Name(), l.path); err != nil {
			return fmt.Errorf("replacing audit trail: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if dropped > 0 {
		l.slog.Warn("pruned unreadable audit records",
			"count", dropped,
			"security_event", "audit_records_dropped")
	}
	return kept, dropped, nil
}

// decodeLine turns one raw line into an Event, gated by SafeUnmarshal.
func decodeLine(line []byte) (Event, bool) {
	if len(bytes.TrimSpace(line)) == 0 {
		return Event{}, false
	}
	if _, err := SafeUnmarshal(line); err != nil {
		return Event{}, false
	}
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, false
	}
	if !e.Type.Valid() {
		return Event{}, false
	}
	return e, true
}

// forEachLine streams the file line by line with bounded memory. Lines
// longer than MaxRawBytes are consumed fully but delivered with
// overflow set and no content.
func forEachLine(r io.Reader, fn func(line []byte, overflow bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf      []byte
		overflow bool
	)
	deliver := func() {
		if len(buf) > 0 || overflow {
			fn(buf, overflow)
		}
		buf = buf[:0]
		overflow = false
	}

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			c := chunk
			if c[len(c)-1] == '\n' {
				c = c[:len(c)-1]
			}
			if !overflow {
				if len(buf)+len(c) > MaxRawBytes {
					overflow = true
					buf = buf[:0]
				} else {
					buf = append(buf, c...)
				}
			}
		}

		switch {
		case err == nil:
			deliver()
		case errors.Is(err, bufio.ErrBufferFull):
			// Keep accumulating the same line.
		case errors.Is(err, io.EOF):
			deliver()
			return nil
		default:
			return err
		}
	}
}
