package consent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sort"
	"sync"
	"time"

	"github.com/osprey0/osprey/internal/permission"
	"github.com/osprey0/osprey/internal/statefile"
)

// managerDoc is the on-disk shape of consent.json.
type managerDoc struct {
	Schema  int                          `json:"schema"`
	Plugins map[string]map[string]Record `json:"plugins"`
}

const managerSchema = 1

// Manager keeps the consent ledger and runs prompts. It persists
// write-through; every decision hits disk before the call returns.
//
// Manager is safe for concurrent use by multiple goroutines.
type Manager struct {
	path     string
	prompter Prompter
	logger   *slog.Logger
	username string

	mu      sync.Mutex
	records map[string]map[permission.Type]Record
}

// NewManager loads (or initializes) the consent ledger at path. A nil
// prompter makes every interactive request behave non-interactively:
// missing consents are denied, never asked for. A malformed ledger is
// an error; consent history is security state and is never reset
// silently.
func NewManager(path string, prompter Prompter, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		path:     path,
		prompter: prompter,
		logger:   logger,
		username: currentUsername(),
		records:  make(map[string]map[permission.Type]Record),
	}

	var doc managerDoc
	found, err := statefile.Load(path, &doc)
	if err != nil {
		return nil, fmt.Errorf("loading consent ledger: %w", err)
	}
	if !found {
		return m, nil
	}

	for plugin, perms := range doc.Plugins {
		for raw, rec := range perms {
			t, err := permission.ParseType(raw)
			if err != nil {
				return nil, fmt.Errorf("consent ledger for %s: %w", plugin, err)
			}
			if m.records[plugin] == nil {
				m.records[plugin] = make(map[permission.Type]Record)
			}
			rec.Plugin = plugin
			rec.Permission = t
			m.records[plugin][t] = rec
		}
	}

	return m, nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// RequestConsent walks the plugin's required permissions and makes sure
// each has a decision. Permissions with a durable granted record pass.
// For the rest: non-interactive sessions record a denial and move on;
// interactive sessions ask once per permission, including permissions
// the user denied or revoked before. Optional permissions are never
// prompted for here.
//
// Returns true iff every required permission ends granted.
func (m *Manager) RequestConsent(ctx context.Context, perms *permission.PluginPermissions, interactive bool) (bool, error) {
	if perms == nil {
		return false, fmt.Errorf("nil plugin permissions")
	}

	canAsk := interactive && m.prompter != nil
	allGranted := true

	for _, t := range perms.Required.Types() {
		m.mu.Lock()
		rec, ok := m.records[perms.Plugin][t]
		m.mu.Unlock()

		if ok && rec.Status == StatusGranted {
			continue
		}

		if !canAsk {
			allGranted = false
			if ok {
				// Keep the original decision and its timestamp.
				continue
			}
			if err := m.set(Record{
				Plugin:     perms.Plugin,
				Permission: t,
				Status:     StatusDenied,
				DecidedAt:  time.Now().UTC(),
				User:       m.username,
				Note:       "denied: non-interactive session",
			}); err != nil {
				return false, err
			}
			m.logger.Warn("consent denied without prompt",
				"plugin", perms.Plugin,
				"permission", t,
				"security_event", "consent_denied_noninteractive")
			continue
		}

		granted, err := m.prompter.Confirm(ctx, Request{
			Plugin:      perms.Plugin,
			Version:     perms.Version,
			Permission:  t,
			Description: t.Description(),
		})
		if err != nil {
			return false, fmt.Errorf("consent prompt for %s: %w", t, err)
		}

		status := StatusDenied
		if granted {
			status = StatusGranted
		} else {
			allGranted = false
		}
		if err := m.set(Record{
			Plugin:     perms.Plugin,
			Permission: t,
			Status:     status,
			DecidedAt:  time.Now().UTC(),
			User:       m.username,
		}); err != nil {
			return false, err
		}
	}

	return allGranted, nil
}

// HasConsent reports whether a durable granted record exists.
func (m *Manager) HasConsent(plugin string, t permission.Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[plugin][t]
	return ok && rec.Status == StatusGranted
}

// Grant records an explicit grant decision, typically from the CLI.
// An empty user falls back to the current OS username.
func (m *Manager) Grant(plugin string, t permission.Type, user string) error {
	return m.decide(plugin, t, user, StatusGranted)
}

// Deny records an explicit denial.
func (m *Manager) Deny(plugin string, t permission.Type, user string) error {
	return m.decide(plugin, t, user, StatusDenied)
}

// Revoke flips an existing grant to revoked. Revoking a permission that
// was never granted returns ErrNotGranted.
func (m *Manager) Revoke(plugin string, t permission.Type, user string) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %s", permission.ErrUnknownPermission, t)
	}

	m.mu.Lock()
	rec, ok := m.records[plugin][t]
	m.mu.Unlock()
	if !ok || rec.Status != StatusGranted {
		return fmt.Errorf("%w: %s for %s", ErrNotGranted, t, plugin)
	}

	if err := m.decide(plugin, t, user, StatusRevoked); err != nil {
		return err
	}
	m.logger.Info("consent revoked",
		"plugin", plugin,
		"permission", t,
		"security_event", "consent_revoked")
	return nil
}

func (m *Manager) decide(plugin string, t permission.Type, user string, status Status) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %s", permission.ErrUnknownPermission, t)
	}
	if user == "" {
		user = m.username
	}
	return m.set(Record{
		Plugin:     plugin,
		Permission: t,
		Status:     status,
		DecidedAt:  time.Now().UTC(),
		User:       user,
	})
}

// Records returns the plugin's decisions sorted by permission.
func (m *Manager) Records(plugin string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	perms := m.records[plugin]
	out := make([]Record, 0, len(perms))
	for _, rec := range perms {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission < out[j].Permission })
	return out
}

// All returns every plugin's decisions, each sorted by permission.
func (m *Manager) All() map[string][]Record {
	m.mu.Lock()
	plugins := make([]string, 0, len(m.records))
	for plugin := range m.records {
		plugins = append(plugins, plugin)
	}
	m.mu.Unlock()

	out := make(map[string][]Record, len(plugins))
	for _, plugin := range plugins {
		out[plugin] = m.Records(plugin)
	}
	return out
}

// set stores one record and persists the ledger.
func (m *Manager) set(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[rec.Plugin] == nil {
		m.records[rec.Plugin] = make(map[permission.Type]Record)
	}
	m.records[rec.Plugin][rec.Permission] = rec
	return m.persistLocked()
}

// persistLocked writes the ledger document. Callers hold m.mu.
func (m *Manager) persistLocked() error {
	doc := managerDoc{
		Schema:  managerSchema,
		Plugins: make(map[string]map[string]Record, len(m.records)),
	}
	for plugin, perms := range m.records {
		doc.Plugins[plugin] = make(map[string]Record, len(perms))
		for t, rec := range perms {
			doc.Plugins[plugin][string(t)] = rec
		}
	}
	if err := statefile.Save(m.path, doc); err != nil {
		return fmt.Errorf("persisting consent ledger: %w", err)
	}
	return nil
}
