package cmd

import (
	"strings"
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("24h", now)
	if err != nil {
		t.Fatalf("parseSince(24h): %v", err)
	}
	if want := now.Add(-24 * time.Hour); !got.Equal(want) {
		t.Errorf("parseSince(24h) = %v, want %v", got, want)
	}

	got, err = parseSince("2026-02-01T00:00:00Z", now)
	if err != nil {
		t.Fatalf("parseSince(RFC3339): %v", err)
	}
	if want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseSince(RFC3339) = %v, want %v", got, want)
	}

	if _, err := parseSince("yesterday", now); err == nil {
		t.Error("parseSince(yesterday) should fail")
	}
}

func TestAuditQueryOptions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		eventType string
		plugin    string
		since     string
		limit     int
		wantOpts  int
		wantErr   string
	}{
		{name: "no filters no limit", limit: 0, wantOpts: 0},
		{name: "default limit only", limit: 50, wantOpts: 1},
		{name: "all filters", eventType: "plugin_enabled", plugin: "hello", since: "1h", limit: 10, wantOpts: 4},
		{name: "unknown event type", eventType: "plugin_rebooted", wantErr: "unknown audit event type"},
		{name: "bad since", since: "yesterday", wantErr: "invalid --since"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := auditQueryOptions(tt.eventType, tt.plugin, tt.since, tt.limit, now)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got err %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("auditQueryOptions: %v", err)
			}
			if len(opts) != tt.wantOpts {
				t.Errorf("got %d options, want %d", len(opts), tt.wantOpts)
			}
		})
	}
}

func TestFormatDetails(t *testing.T) {
	if got := formatDetails(nil); got != "" {
		t.Errorf("formatDetails(nil) = %q, want empty", got)
	}

	got := formatDetails(map[string]any{"via": "cli", "permission": "read:documents", "count": 3})
	want := "count=3 permission=read:documents via=cli"
	if got != want {
		t.Errorf("formatDetails = %q, want %q", got, want)
	}
}

func TestAuditListEmpty(t *testing.T) {
	isolateHome(t)

	out, _, err := runOsprey(t, "", "audit", "list")
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if !strings.Contains(out, "No audit events.") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestAuditListRejectsUnknownType(t *testing.T) {
	isolateHome(t)

	_, _, err := runOsprey(t, "", "audit", "list", "--type", "plugin_rebooted")
	if err == nil || !strings.Contains(err.Error(), "unknown audit event type") {
		t.Fatalf("got %v, want unknown event type error", err)
	}
}

func TestAuditListRejectsBadSince(t *testing.T) {
	isolateHome(t)

	_, _, err := runOsprey(t, "", "audit", "list", "--since", "yesterday")
	if err == nil || !strings.Contains(err.Error(), "invalid --since") {
		t.Fatalf("got %v, want invalid --since error", err)
	}
}

func TestAuditPruneRejectsNonPositive(t *testing.T) {
	isolateHome(t)

	_, _, err := runOsprey(t, "", "audit", "prune", "--older-than", "0s")
	if err == nil || !strings.Contains(err.Error(), "must be a positive duration") {
		t.Fatalf("got %v, want positive duration error", err)
	}
}

func TestAuditPruneEmptyTrail(t *testing.T) {
	isolateHome(t)

	out, _, err := runOsprey(t, "", "audit", "prune")
	if err != nil {
		t.Fatalf("audit prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 events, kept 0.") {
		t.Errorf("unexpected output: %q", out)
	}
}
