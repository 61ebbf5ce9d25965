package permission

import (
	"errors"
	"fmt"
)

// Errors returned by grant-state mutations.
var (
	// ErrNotDeclared indicates an attempt to grant a permission the
	// plugin's manifest never declared.
	ErrNotDeclared = errors.New("permission not declared by plugin")

	// ErrDuplicatePermission indicates a type appearing in both the
	// required and optional sets.
	ErrDuplicatePermission = errors.New("duplicate permission declaration")

	// ErrUnknownPlugin indicates a plugin with no registry entry.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// PluginPermissions is one plugin's declared and granted capabilities.
//
// Invariant: Granted ⊆ Required ∪ Optional. Grant refuses anything
// outside the declared sets, and the registry repairs violations found
// in loaded state.
//
// Values returned by the registry are snapshots; mutations must go
// through Registry methods so they persist and stay synchronized.
type PluginPermissions struct {
	Plugin   string `json:"plugin"`
	Version  string `json:"version"`
	Required Set    `json:"required"`
	Optional Set    `json:"optional"`
	Granted  Set    `json:"granted"`
}

// newPluginPermissions validates the declared sets and builds an entry
// with nothing granted.
func newPluginPermissions(plugin, version string, required, optional []Type) (*PluginPermissions, error) {
	p := &PluginPermissions{
		Plugin:   plugin,
		Version:  version,
		Required: make(Set, len(required)),
		Optional: make(Set, len(optional)),
		Granted:  make(Set),
	}

	for _, t := range required {
		if !t.Valid() {
			return nil, fmt.Errorf("required: %w: %q", ErrUnknownPermission, t)
		}
		if p.Required.Has(t) {
			return nil, fmt.Errorf("%w: %q listed twice in required", ErrDuplicatePermission, t)
		}
		p.Required.Add(t)
	}
	for _, t := range optional {
		if !t.Valid() {
			return nil, fmt.Errorf("optional: %w: %q", ErrUnknownPermission, t)
		}
		if p.Required.Has(t) || p.Optional.Has(t) {
			return nil, fmt.Errorf("%w: %q declared as both required and optional", ErrDuplicatePermission, t)
		}
		p.Optional.Add(t)
	}

	return p, nil
}

// Declared reports whether t appears in Required or Optional.
func (p *PluginPermissions) Declared(t Type) bool {
	return p.Required.Has(t) || p.Optional.Has(t)
}

// Grant adds t to the granted set. Only declared permissions can be
// granted; everything else returns ErrNotDeclared. Granting an already
// granted permission is a no-op.
func (p *PluginPermissions) Grant(t Type) error {
	if !p.Declared(t) {
		return fmt.Errorf("%w: %q", ErrNotDeclared, t)
	}
	p.Granted.Add(t)
	return nil
}

// Revoke removes t from the granted set. Revoking an ungranted or
// undeclared permission is a no-op.
func (p *PluginPermissions) Revoke(t Type) {
	p.Granted.Remove(t)
}

// Has reports whether t is currently granted.
func (p *PluginPermissions) Has(t Type) bool {
	return p.Granted.Has(t)
}

// AllRequiredGranted reports whether every required permission is granted.
func (p *PluginPermissions) AllRequiredGranted() bool {
	for t := range p.Required {
		if !p.Granted.Has(t) {
			return false
		}
	}
	return true
}

// clone returns a deep copy safe to hand outside the registry lock.
func (p *PluginPermissions) clone() *PluginPermissions {
	return &PluginPermissions{
		Plugin:   p.Plugin,
		Version:  p.Version,
		Required: p.Required.Clone(),
		Optional: p.Optional.Clone(),
		Granted:  p.Granted.Clone(),
	}
}

// repairInvariant intersects Granted with the declared sets, returning
// the types that were dropped. Loaded state is repaired rather than
// trusted: a hand-edited file cannot widen a plugin's capabilities.
func (p *PluginPermissions) repairInvariant() []Type {
	var dropped []Type
	for t := range p.Granted {
		if !p.Declared(t) {
			dropped = append(dropped, t)
		}
	}
	for _, t := range dropped {
		p.Granted.Remove(t)
	}
	return dropped
}
