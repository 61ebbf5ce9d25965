// Package audit writes and reads the security audit trail.
//
// Events go to an append-only JSONL file, one object per line. The
// package is deliberately paranoid about JSON it did not write itself:
// everything read back passes through SafeUnmarshal, which enforces
// size, depth, and width caps before any field is looked at. Details
// maps pass through SanitizeDetails on the way in, so a hostile plugin
// cannot smuggle unbounded or unserializable values into the log.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed catalog of auditable actions.
type EventType string

const (
	EventPluginLoaded        EventType = "plugin_loaded"
	EventPluginEnabled       EventType = "plugin_enabled"
	EventPluginDisabled      EventType = "plugin_disabled"
	EventPluginExecuted      EventType = "plugin_executed"
	EventPluginFailed        EventType = "plugin_failed"
	EventPermissionRequested EventType = "permission_requested"
	EventPermissionGranted   EventType = "permission_granted"
	EventPermissionDenied    EventType = "permission_denied"
	EventPermissionRevoked   EventType = "permission_revoked"
	EventPermissionViolated  EventType = "permission_violated"
	EventSandboxViolation    EventType = "sandbox_violation"
	EventNetworkAttempt      EventType = "network_attempt"
	EventFileAccess          EventType = "file_access"
	EventConfigChanged       EventType = "config_changed"
)

var eventTypes = map[EventType]bool{
	EventPluginLoaded:        true,
	EventPluginEnabled:       true,
	EventPluginDisabled:      true,
	EventPluginExecuted:      true,
	EventPluginFailed:        true,
	EventPermissionRequested: true,
	EventPermissionGranted:   true,
	EventPermissionDenied:    true,
	EventPermissionRevoked:   true,
	EventPermissionViolated:  true,
	EventSandboxViolation:    true,
	EventNetworkAttempt:      true,
	EventFileAccess:          true,
	EventConfigChanged:       true,
}

// Valid reports whether t is in the catalog.
func (t EventType) Valid() bool { return eventTypes[t] }

// Common Result values. The field is free-form; these cover the usual
// outcomes.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event is one audit record. Log fills ID, Time, and User when zero.
type Event struct {
	ID       string
	Time     time.Time
	Type     EventType
	Plugin   string
	Version  string
	User     string
	Details  map[string]any
	Result   string
	Duration time.Duration
}

// eventWire is the JSONL shape: time as RFC3339Nano, duration in
// milliseconds.
type eventWire struct {
	ID       string         `json:"id"`
	Time     string         `json:"time"`
	Type     EventType      `json:"type"`
	Plugin   string         `json:"plugin,omitempty"`
	Version  string         `json:"version,omitempty"`
	User     string         `json:"user,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Result   string         `json:"result,omitempty"`
	Duration int64          `json:"duration_ms,omitempty"`
}

// MarshalJSON serializes the event in wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventWire{
		ID:       e.ID,
		Time:     e.Time.UTC().Format(time.RFC3339Nano),
		Type:     e.Type,
		Plugin:   e.Plugin,
		Version:  e.Version,
		User:     e.User,
		Details:  e.Details,
		Result:   e.Result,
		Duration: e.Duration.Milliseconds(),
	})
}

// UnmarshalJSON decodes the wire form. An unparseable timestamp is an
// error; type validity is the reader's concern, not the codec's.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Time)
	if err != nil {
		return fmt.Errorf("invalid event time: %w", err)
	}
	*e = Event{
		ID:       w.ID,
		Time:     ts,
		Type:     w.Type,
		Plugin:   w.Plugin,
		Version:  w.Version,
		User:     w.User,
		Details:  w.Details,
		Result:   w.Result,
		Duration: time.Duration(w.Duration) * time.Millisecond,
	}
	return nil
}
