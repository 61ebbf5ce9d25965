package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/osprey0/osprey/internal/audit"
	"github.com/osprey0/osprey/internal/consent"
	"github.com/osprey0/osprey/internal/manifest"
	"github.com/osprey0/osprey/internal/permission"
	"github.com/osprey0/osprey/internal/sandbox"
	"github.com/osprey0/osprey/internal/statefile"
)

const stateSchema = 1

// Execution rate defaults, applied when ManagerConfig leaves them zero.
const (
	DefaultExecutionsPerMinute = 60
	DefaultRateBurst           = 5
)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	// PluginsDir is the root scanned for plugin directories; each
	// plugin lives in <PluginsDir>/<name> next to its manifest.yaml.
	PluginsDir string

	// StatePath is the enabled-plugin registry file (plugins.json).
	StatePath string

	// Sandbox carries the execution limits for subprocess plugins
	// (timeout, CPU limit, output cap). Allowed paths and network
	// blocking are derived per plugin from its grants, so those
	// fields are ignored here.
	Sandbox sandbox.Config

	// DocumentRoots join a plugin's sandbox read or write sets when
	// the matching documents permission is granted.
	DocumentRoots []string

	// ForceBlockNetwork blocks network access for every plugin,
	// overriding granted network permissions.
	ForceBlockNetwork bool

	// ExecutionsPerMinute caps how often each plugin may execute.
	// Zero means DefaultExecutionsPerMinute.
	ExecutionsPerMinute int

	// RateBurst is the token-bucket burst per plugin. Zero means
	// DefaultRateBurst.
	RateBurst int
}

// EnabledPlugin is one plugins.json entry.
type EnabledPlugin struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Entrypoint string    `json:"entrypoint,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	EnabledAt  time.Time `json:"enabled_at"`
}

type stateDoc struct {
	Schema  int                      `json:"schema"`
	Plugins map[string]EnabledPlugin `json:"plugins"`
}

// Manager owns the plugin lifecycle: discovery, the load gate
// sequence, enablement state, and sandboxed execution.
type Manager struct {
	cfg       ManagerConfig
	validator *manifest.Validator
	perms     *permission.Registry
	consent   *consent.Manager
	auditor   *audit.Logger
	logger    *slog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	enabled  map[string]EnabledPlugin
	limiters map[string]*rate.Limiter
}

// NewManager loads the enabled-plugin state and wires the security
// core. Every dependency is required; a malformed state file is an
// error, never a silent reset.
func NewManager(cfg ManagerConfig, validator *manifest.Validator, perms *permission.Registry, consentMgr *consent.Manager, auditor *audit.Logger, logger *slog.Logger) (*Manager, error) {
	if cfg.PluginsDir == "" {
		return nil, errors.New("plugins directory is required")
	}
	if cfg.StatePath == "" {
		return nil, errors.New("plugin state path is required")
	}
	if validator == nil {
		return nil, errors.New("manifest validator is required")
	}
	if perms == nil {
		return nil, errors.New("permission registry is required")
	}
	if consentMgr == nil {
		return nil, errors.New("consent manager is required")
	}
	if auditor == nil {
		return nil, errors.New("audit logger is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExecutionsPerMinute <= 0 {
		cfg.ExecutionsPerMinute = DefaultExecutionsPerMinute
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}

	m := &Manager{
		cfg:       cfg,
		validator: validator,
		perms:     perms,
		consent:   consentMgr,
		auditor:   auditor,
		logger:    logger,
		tracer:    otel.Tracer("osprey/plugin"),
		enabled:   make(map[string]EnabledPlugin),
		limiters:  make(map[string]*rate.Limiter),
	}

	var doc stateDoc
	found, err := statefile.Load(cfg.StatePath, &doc)
	if err != nil {
		return nil, fmt.Errorf("load plugin state: %w", err)
	}
	if found && doc.Plugins != nil {
		m.enabled = doc.Plugins
	}
	return m, nil
}

// Discovered is one plugin directory found under the plugins root.
type Discovered struct {
	Name     string
	Path     string
	Manifest *manifest.Manifest // nil when the manifest does not parse
	Result   *manifest.Result
	Enabled  bool
}

// Discover scans the plugins root for directories carrying a
// manifest.yaml and validates each one. A missing root yields an
// empty result; unreadable entries are skipped with a warning.
func (m *Manager) Discover() ([]Discovered, error) {
	entries, err := os.ReadDir(m.cfg.PluginsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugins directory: %w", err)
	}

	var found []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.cfg.PluginsDir, entry.Name())
		mfPath := filepath.Join(dir, manifest.Filename)
		if _, err := os.Stat(mfPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("skipping unreadable plugin directory",
					"plugin", entry.Name(), "error", err)
			}
			continue
		}
		mf, res := m.validator.Validate(mfPath)
		found = append(found, Discovered{
			Name:     entry.Name(),
			Path:     dir,
			Manifest: mf,
			Result:   res,
			Enabled:  m.isEnabled(entry.Name()),
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}

func (m *Manager) isEnabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.enabled[name]
	return ok
}

// Load runs the gate sequence for the plugin in <PluginsDir>/<name>
// and enables it: manifest validation, permission registration,
// consent, and an entrypoint integrity record for command plugins.
// Each gate outcome is audited. Interactive controls whether consent
// may prompt; a non-interactive session denies missing grants.
func (m *Manager) Load(ctx context.Context, name string, interactive bool) error {
	dir := filepath.Join(m.cfg.PluginsDir, name)
	mf, res := m.validator.Validate(filepath.Join(dir, manifest.Filename))
	if !res.Passed {
		m.auditor.Log(ctx, audit.Event{
			Type:    audit.EventPluginFailed,
			Plugin:  name,
			Result:  audit.ResultFailure,
			Details: manifestDetails(res),
		})
		return &ManifestError{Plugin: name, Result: res}
	}
	if mf.Plugin.Name != name {
		// A directory must not impersonate another plugin's identity:
		// grants and consent are keyed by name.
		m.auditor.Log(ctx, audit.Event{
			Type:   audit.EventPluginFailed,
			Plugin: name,
			Result: audit.ResultFailure,
			Details: map[string]any{
				"reason":        "name_mismatch",
				"manifest_name": mf.Plugin.Name,
			},
		})
		return fmt.Errorf("%w: manifest names %q, directory is %q",
			ErrManifestInvalid, mf.Plugin.Name, name)
	}

	required, optional, err := declaredPermissions(mf)
	if err != nil {
		return err
	}
	perms, err := m.perms.Register(name, mf.Plugin.Version, required, optional)
	if err != nil {
		return fmt.Errorf("register permissions: %w", err)
	}
	m.auditor.Log(ctx, audit.Event{
		Type:    audit.EventPermissionRequested,
		Plugin:  name,
		Version: mf.Plugin.Version,
		Details: map[string]any{
			"required": typeStrings(required),
			"optional": typeStrings(optional),
		},
	})

	allGranted, err := m.consent.RequestConsent(ctx, perms, interactive)
	if err != nil {
		return fmt.Errorf("request consent: %w", err)
	}
	for _, t := range required {
		if m.consent.HasConsent(name, t) {
			if err := m.perms.Grant(name, t); err != nil {
				return fmt.Errorf("grant %s: %w", t, err)
			}
			m.auditor.Log(ctx, audit.Event{
				Type:    audit.EventPermissionGranted,
				Plugin:  name,
				Version: mf.Plugin.Version,
				Result:  audit.ResultSuccess,
				Details: map[string]any{"permission": string(t)},
			})
		} else {
			m.auditor.Log(ctx, audit.Event{
				Type:    audit.EventPermissionDenied,
				Plugin:  name,
				Version: mf.Plugin.Version,
				Result:  audit.ResultDenied,
				Details: map[string]any{"permission": string(t)},
			})
		}
	}
	if !allGranted {
		return fmt.Errorf("%w: plugin %q", ErrConsentDenied, name)
	}

	entry := EnabledPlugin{
		Version:   mf.Plugin.Version,
		Type:      mf.Plugin.Type,
		EnabledAt: time.Now().UTC(),
	}
	if mf.Plugin.Type == manifest.TypeCommand {
		entry.Entrypoint = mf.EntrypointName()
		sum, err := FileSHA256(filepath.Join(dir, entry.Entrypoint))
		if err != nil {
			m.auditor.Log(ctx, audit.Event{
				Type:    audit.EventPluginFailed,
				Plugin:  name,
				Version: mf.Plugin.Version,
				Result:  audit.ResultFailure,
				Details: map[string]any{"reason": "entrypoint_unreadable", "error": err.Error()},
			})
			return err
		}
		entry.SHA256 = sum
	} else if _, ok := Lookup(name); !ok {
		m.auditor.Log(ctx, audit.Event{
			Type:    audit.EventPluginFailed,
			Plugin:  name,
			Version: mf.Plugin.Version,
			Result:  audit.ResultFailure,
			Details: map[string]any{"reason": "unknown_factory"},
		})
		return fmt.Errorf("%w: %q", ErrUnknownFactory, name)
	}

	m.mu.Lock()
	m.enabled[name] = entry
	err = m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.auditor.Log(ctx, audit.Event{
		Type:    audit.EventPluginLoaded,
		Plugin:  name,
		Version: entry.Version,
		Result:  audit.ResultSuccess,
		Details: map[string]any{"type": entry.Type},
	})
	m.auditor.Log(ctx, audit.Event{
		Type:    audit.EventPluginEnabled,
		Plugin:  name,
		Version: entry.Version,
		Result:  audit.ResultSuccess,
	})
	m.logger.Info("plugin enabled",
		"plugin", name, "version", entry.Version, "type", entry.Type)
	return nil
}

// Unload disables a plugin. Grants and consent records survive;
// revocation is an explicit separate act.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	entry, ok := m.enabled[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotEnabled, name)
	}
	delete(m.enabled, name)
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.auditor.Log(ctx, audit.Event{
		Type:    audit.EventPluginDisabled,
		Plugin:  name,
		Version: entry.Version,
		Result:  audit.ResultSuccess,
	})
	m.logger.Info("plugin disabled", "plugin", name)
	return nil
}

// Status is the merged CLI view of one plugin.
type Status struct {
	Name      string
	Version   string
	Type      string
	Enabled   bool
	EnabledAt time.Time
	SHA256    string
	Granted   []permission.Type
}

// Info reports one plugin: the enabled entry when it is enabled, the
// on-disk manifest otherwise. ErrNotFound when neither exists.
func (m *Manager) Info(name string) (Status, error) {
	m.mu.Lock()
	entry, ok := m.enabled[name]
	m.mu.Unlock()
	if ok {
		return Status{
			Name:      name,
			Version:   entry.Version,
			Type:      entry.Type,
			Enabled:   true,
			EnabledAt: entry.EnabledAt,
			SHA256:    entry.SHA256,
			Granted:   m.grantedFor(name),
		}, nil
	}

	mf, _ := manifest.Load(filepath.Join(m.cfg.PluginsDir, name, manifest.Filename))
	if mf == nil {
		return Status{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return Status{
		Name:    name,
		Version: mf.Plugin.Version,
		Type:    mf.Plugin.Type,
		Granted: m.grantedFor(name),
	}, nil
}

// List returns the enabled plugins sorted by name.
func (m *Manager) List() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.enabled))
	for name, entry := range m.enabled {
		out = append(out, Status{
			Name:      name,
			Version:   entry.Version,
			Type:      entry.Type,
			Enabled:   true,
			EnabledAt: entry.EnabledAt,
			SHA256:    entry.SHA256,
		})
	}
	m.mu.Unlock()

	for i := range out {
		out[i].Granted = m.grantedFor(out[i].Name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) grantedFor(name string) []permission.Type {
	if pp, ok := m.perms.Get(name); ok {
		return pp.Granted.Types()
	}
	return nil
}

func (m *Manager) persistLocked() error {
	doc := stateDoc{Schema: stateSchema, Plugins: m.enabled}
	if err := statefile.Save(m.cfg.StatePath, doc); err != nil {
		return fmt.Errorf("persist plugin state: %w", err)
	}
	return nil
}

func declaredPermissions(mf *manifest.Manifest) (required, optional []permission.Type, err error) {
	for _, s := range mf.Permissions.Required {
		t, perr := permission.ParseType(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("required permission: %w", perr)
		}
		required = append(required, t)
	}
	for _, s := range mf.Permissions.Optional {
		t, perr := permission.ParseType(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("optional permission: %w", perr)
		}
		optional = append(optional, t)
	}
	return required, optional, nil
}

func typeStrings(types []permission.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func manifestDetails(res *manifest.Result) map[string]any {
	issues := make([]any, 0, len(res.Issues))
	for _, is := range res.Issues {
		issues = append(issues, map[string]any{
			"severity": string(is.Severity),
			"field":    is.Field,
			"message":  is.Message,
		})
	}
	return map[string]any{"score": res.Score, "issues": issues}
}
