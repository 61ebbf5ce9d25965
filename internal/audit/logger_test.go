package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osprey0/osprey/internal/log"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := New(path, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, path
}

func TestLogAppendsOneLinePerEvent(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventPluginLoaded, Plugin: "notion-sync", Version: "1.0.0"})
	l.Log(ctx, Event{Type: EventPluginExecuted, Plugin: "notion-sync", Result: ResultSuccess,
		Duration: 1200 * time.Millisecond})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first.ID == "" {
		t.Error("ID not auto-filled")
	}
	if first.Time.IsZero() {
		t.Error("Time not auto-filled")
	}
	if first.User == "" {
		t.Error("User not auto-filled")
	}
	if first.Type != EventPluginLoaded {
		t.Errorf("Type = %s", first.Type)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line: %v", err)
	}
	if second.Duration != 1200*time.Millisecond {
		t.Errorf("Duration = %v", second.Duration)
	}
}

func TestLogWireFormat(t *testing.T) {
	l, path := newTestLogger(t)

	at := time.Date(2025, 3, 10, 9, 30, 0, 123456789, time.UTC)
	l.Log(context.Background(), Event{
		ID:       "fixed-id",
		Time:     at,
		Type:     EventFileAccess,
		Plugin:   "indexer",
		Duration: 250 * time.Millisecond,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["time"] != "2025-03-10T09:30:00.123456789Z" {
		t.Errorf("time = %v", raw["time"])
	}
	if raw["duration_ms"] != float64(250) {
		t.Errorf("duration_ms = %v", raw["duration_ms"])
	}
}

func TestLogFileMode(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("file modes are unix-specific")
	}
	l, path := newTestLogger(t)
	l.Log(context.Background(), Event{Type: EventPluginLoaded})

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("mode = %o, want 0600", got)
	}
}

func TestLogSanitizesDetails(t *testing.T) {
	l, path := newTestLogger(t)

	l.Log(context.Background(), Event{
		Type: EventSandboxViolation,
		Details: map[string]any{
			"long": strings.Repeat("x", MaxStringLen+100),
			"at":   time.Now(),
		},
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), truncationMark) {
		t.Error("overlong detail written untruncated")
	}
}

func TestLogNeverErrors(t *testing.T) {
	// Pointing the trail at a directory makes every append fail.
	dir := t.TempDir()
	l, err := New(dir, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Must not panic, must not block.
	l.Log(context.Background(), Event{Type: EventPluginFailed, Plugin: "p"})
}

func TestEventsFilters(t *testing.T) {
	l, _ := newTestLogger(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	l.Log(ctx, Event{Time: base, Type: EventPluginLoaded, Plugin: "alpha"})
	l.Log(ctx, Event{Time: base.Add(1 * time.Hour), Type: EventPluginExecuted, Plugin: "alpha"})
	l.Log(ctx, Event{Time: base.Add(2 * time.Hour), Type: EventPluginExecuted, Plugin: "beta"})
	l.Log(ctx, Event{Time: base.Add(3 * time.Hour), Type: EventPermissionDenied, Plugin: "beta"})

	all, err := l.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d events, want 4", len(all))
	}

	byType, err := l.Events(WithType(EventPluginExecuted))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("WithType: got %d, want 2", len(byType))
	}

	byPlugin, err := l.Events(WithPlugin("beta"))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(byPlugin) != 2 {
		t.Errorf("WithPlugin: got %d, want 2", len(byPlugin))
	}

	since, err := l.Events(Since(base.Add(90 * time.Minute)))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Since: got %d, want 2", len(since))
	}

	limited, err := l.Events(WithLimit(2))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("WithLimit: got %d, want 2", len(limited))
	}
	if limited[0].Type != EventPluginExecuted || limited[1].Type != EventPermissionDenied {
		t.Errorf("WithLimit did not keep the most recent events: %v, %v",
			limited[0].Type, limited[1].Type)
	}

	combined, err := l.Events(WithPlugin("alpha"), WithType(EventPluginExecuted))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(combined) != 1 {
		t.Errorf("combined filters: got %d, want 1", len(combined))
	}
}

func TestEventsMissingFile(t *testing.T) {
	l, _ := newTestLogger(t)
	events, err := l.Events()
	if err != nil {
		t.Fatalf("Events on missing file: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events from missing file", len(events))
	}
}

func TestEventsDropsUnreadableLines(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	l.Log(ctx, Event{Type: EventPluginLoaded, Plugin: "good"})

	// Splice hostile lines between valid ones.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	hostile := []string{
		"not json at all",
		`{"id":"x","time":"not a timestamp","type":"plugin_loaded"}`,
		`{"id":"x","time":"2025-01-01T00:00:00Z","type":"made_up_type"}`,
		`{"k":"` + strings.Repeat("a", MaxRawBytes) + `"}`,
	}
	for _, line := range hostile {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("WriteString: %v", err)
		}
	}
	f.Close()

	l.Log(ctx, Event{Type: EventPluginExecuted, Plugin: "good"})

	events, err := l.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (hostile lines must drop, valid ones survive)", len(events))
	}
	if events[0].Type != EventPluginLoaded || events[1].Type != EventPluginExecuted {
		t.Errorf("wrong survivors: %v, %v", events[0].Type, events[1].Type)
	}
}

func TestPrune(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	l.Log(ctx, Event{Time: old, Type: EventPluginLoaded, Plugin: "old"})
	l.Log(ctx, Event{Time: old.Add(time.Minute), Type: EventPluginExecuted, Plugin: "old"})
	l.Log(ctx, Event{Type: EventPluginLoaded, Plugin: "fresh"})

	// One rotten line for the dropped count.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("garbage\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	kept, dropped, err := l.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if kept != 1 {
		t.Errorf("kept = %d, want 1", kept)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	events, err := l.Events()
	if err != nil {
		t.Fatalf("Events after prune: %v", err)
	}
	if len(events) != 1 || events[0].Plugin != "fresh" {
		t.Errorf("survivors = %+v", events)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "garbage") {
		t.Error("garbage line survived the prune")
	}
}

func TestPruneMissingFile(t *testing.T) {
	l, _ := newTestLogger(t)
	kept, dropped, err := l.Prune(time.Hour)
	if err != nil {
		t.Fatalf("Prune on missing file: %v", err)
	}
	if kept != 0 || dropped != 0 {
		t.Errorf("kept=%d dropped=%d, want 0/0", kept, dropped)
	}
}

func TestEventRoundTrip(t *testing.T) {
	in := Event{
		ID:       "abc",
		Time:     time.Date(2025, 2, 2, 2, 2, 2, 0, time.UTC),
		Type:     EventNetworkAttempt,
		Plugin:   "web-fetch",
		Version:  "0.9.1",
		User:     "alice",
		Details:  map[string]any{"host": "api.example.com"},
		Result:   ResultDenied,
		Duration: 42 * time.Millisecond,
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.ID != in.ID || out.Type != in.Type || out.Plugin != in.Plugin ||
		out.Version != in.Version || out.User != in.User || out.Result != in.Result {
		t.Errorf("fields lost: %+v", out)
	}
	if !out.Time.Equal(in.Time) {
		t.Errorf("Time = %v, want %v", out.Time, in.Time)
	}
	if out.Duration != in.Duration {
		t.Errorf("Duration = %v, want %v", out.Duration, in.Duration)
	}
}

func TestEventTypeCatalog(t *testing.T) {
	for _, typ := range []EventType{
		EventPluginLoaded, EventPluginEnabled, EventPluginDisabled,
		EventPluginExecuted, EventPluginFailed,
		EventPermissionRequested, EventPermissionGranted, EventPermissionDenied,
		EventPermissionRevoked, EventPermissionViolated,
		EventSandboxViolation, EventNetworkAttempt, EventFileAccess,
		EventConfigChanged,
	} {
		if !typ.Valid() {
			t.Errorf("%s not valid", typ)
		}
	}
	if EventType("made_up").Valid() {
		t.Error("off-catalog type reported valid")
	}
}
