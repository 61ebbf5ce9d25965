package permission

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/osprey0/osprey/internal/statefile"
)

// registryDoc is the on-disk shape of permissions.json.
type registryDoc struct {
	Schema  int                           `json:"schema"`
	Plugins map[string]*PluginPermissions `json:"plugins"`
}

const registrySchema = 1

// Registry holds every plugin's permission state and persists it
// write-through: each successful mutation immediately rewrites the JSON
// document, so a crash can never lose a revocation.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	plugins map[string]*PluginPermissions
}

// NewRegistry loads (or initializes) the permission registry at path.
// A missing file is an empty registry. A malformed file is an error:
// resetting grant state silently would fail open. Entries whose granted
// set escaped the declared sets are repaired by intersection, with a
// warning naming what was dropped.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		path:    path,
		logger:  logger,
		plugins: make(map[string]*PluginPermissions),
	}

	var doc registryDoc
	found, err := statefile.Load(path, &doc)
	if err != nil {
		return nil, fmt.Errorf("loading permission registry: %w", err)
	}
	if !found {
		return r, nil
	}

	repaired := false
	for name, p := range doc.Plugins {
		if p == nil {
			continue
		}
		if p.Plugin == "" {
			p.Plugin = name
		}
		ensureSets(p)
		if dropped := p.repairInvariant(); len(dropped) > 0 {
			repaired = true
			r.logger.Warn("dropped undeclared grants from permission state",
				"plugin", name,
				"dropped", dropped,
				"security_event", "grant_invariant_repair")
		}
		r.plugins[name] = p
	}

	if repaired {
		if err := r.persistLocked(); err != nil {
			return nil, fmt.Errorf("persisting repaired registry: %w", err)
		}
	}

	return r, nil
}

// ensureSets replaces nil sets from partially written documents so the
// entry's methods never dereference nil maps.
func ensureSets(p *PluginPermissions) {
	if p.Required == nil {
		p.Required = make(Set)
	}
	if p.Optional == nil {
		p.Optional = make(Set)
	}
	if p.Granted == nil {
		p.Granted = make(Set)
	}
}

// Register creates or replaces a plugin's entry from its manifest
// declaration. A version change resets the granted set: new plugin code
// must re-earn consent. Re-registering the same version keeps existing
// grants that the (possibly changed) declaration still covers.
func (r *Registry) Register(plugin, version string, required, optional []Type) (*PluginPermissions, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is required")
	}

	entry, err := newPluginPermissions(plugin, version, required, optional)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", plugin, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.plugins[plugin]; ok && prev.Version == version {
		for t := range prev.Granted {
			if entry.Declared(t) {
				entry.Granted.Add(t)
			}
		}
	}

	r.plugins[plugin] = entry
	if err := r.persistLocked(); err != nil {
		return nil, err
	}

	r.logger.Debug("registered plugin permissions",
		"plugin", plugin,
		"version", version,
		"required", entry.Required.Types(),
		"optional", entry.Optional.Types())

	return entry.clone(), nil
}

// Grant marks a declared permission as granted and persists.
func (r *Registry) Grant(plugin string, t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[plugin]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, plugin)
	}
	if err := entry.Grant(t); err != nil {
		r.logger.Warn("refused grant of undeclared permission",
			"plugin", plugin,
			"permission", t,
			"security_event", "undeclared_grant_refused")
		return err
	}
	return r.persistLocked()
}

// Revoke removes a grant and persists. Revoking something ungranted is
// a no-op that still succeeds.
func (r *Registry) Revoke(plugin string, t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[plugin]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, plugin)
	}
	entry.Revoke(t)
	return r.persistLocked()
}

// Check reports whether plugin currently holds t. False for unknown
// plugins, invalid types, and ungranted permissions; never an error.
func (r *Registry) Check(plugin string, t Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[plugin]
	if !ok {
		return false
	}
	return entry.Has(t)
}

// Get returns a snapshot of a plugin's entry.
func (r *Registry) Get(plugin string) (*PluginPermissions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[plugin]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

// List returns snapshots of every entry, sorted by plugin name.
func (r *Registry) List() []*PluginPermissions {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*PluginPermissions, 0, len(r.plugins))
	for _, entry := range r.plugins {
		out = append(out, entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plugin < out[j].Plugin })
	return out
}

// Remove deletes a plugin's entry entirely and persists. Removing an
// unknown plugin is a no-op.
func (r *Registry) Remove(plugin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[plugin]; !ok {
		return nil
	}
	delete(r.plugins, plugin)
	return r.persistLocked()
}

// persistLocked writes the registry document. Callers hold r.mu.
func (r *Registry) persistLocked() error {
	doc := registryDoc{Schema: registrySchema, Plugins: r.plugins}
	if err := statefile.Save(r.path, doc); err != nil {
		return fmt.Errorf("persisting permission registry: %w", err)
	}
	return nil
}
