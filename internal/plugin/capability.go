package plugin

import (
	"fmt"

	"github.com/osprey0/osprey/internal/manifest"
)

// capabilityFor runs the shared gates for in-process construction:
// the plugin must be enabled, of the wanted type, have a registered
// factory, and hold every permission the factory declares it needs.
func (m *Manager) capabilityFor(name, wantType string) (Plugin, error) {
	m.mu.Lock()
	entry, ok := m.enabled[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotEnabled, name)
	}
	if entry.Type != wantType {
		return nil, fmt.Errorf("%w: %q is %s, want %s", ErrWrongType, name, entry.Type, wantType)
	}

	f, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactory, name)
	}
	for _, t := range f.Needs {
		if !m.perms.Check(name, t) {
			m.logger.Warn("capability construction refused",
				"plugin", name,
				"permission", string(t),
				"security_event", "capability_refused")
			return nil, fmt.Errorf("%w: %q needs %s", ErrPermissionDenied, name, t)
		}
	}

	p, err := f.New(m.logger)
	if err != nil {
		return nil, fmt.Errorf("construct plugin %q: %w", name, err)
	}
	return p, nil
}

// EmbedderFor constructs the embedder capability of an enabled
// plugin. The caller owns Initialize and Shutdown.
func (m *Manager) EmbedderFor(name string) (Embedder, error) {
	p, err := m.capabilityFor(name, manifest.TypeEmbedder)
	if err != nil {
		return nil, err
	}
	e, ok := p.(Embedder)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not implement Embedder", ErrWrongType, name)
	}
	return e, nil
}

// RetrieverFor constructs the retriever capability of an enabled
// plugin.
func (m *Manager) RetrieverFor(name string) (Retriever, error) {
	p, err := m.capabilityFor(name, manifest.TypeRetriever)
	if err != nil {
		return nil, err
	}
	r, ok := p.(Retriever)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not implement Retriever", ErrWrongType, name)
	}
	return r, nil
}

// ProcessorFor constructs the processor capability of an enabled
// plugin.
func (m *Manager) ProcessorFor(name string) (Processor, error) {
	p, err := m.capabilityFor(name, manifest.TypeProcessor)
	if err != nil {
		return nil, err
	}
	proc, ok := p.(Processor)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not implement Processor", ErrWrongType, name)
	}
	return proc, nil
}
