// Package manifest loads and validates plugin manifests.
//
// Every plugin directory carries a manifest.yaml declaring identity,
// requested permissions, and dependency constraints. Validation never
// panics and never returns a Go error; every finding is an Issue with
// a severity, and the overall Result decides whether the plugin may be
// registered at all.
package manifest

import (
	"fmt"

	"github.com/spf13/viper"
)

// Filename is the manifest file expected at the plugin directory root.
const Filename = "manifest.yaml"

// Plugin type strings accepted by the type check.
const (
	TypeEmbedder  = "embedder"
	TypeRetriever = "retriever"
	TypeProcessor = "processor"
	TypeCommand   = "command"
)

// Manifest mirrors manifest.yaml.
type Manifest struct {
	Plugin       Info              `mapstructure:"plugin"`
	Permissions  Permissions       `mapstructure:"permissions"`
	Dependencies map[string]string `mapstructure:"dependencies"`
}

// Info is the identity block of a manifest.
type Info struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Type        string `mapstructure:"type"`
	Description string `mapstructure:"description"`
	Author      string `mapstructure:"author"`
	Entrypoint  string `mapstructure:"entrypoint"`
}

// Permissions is the declared permission block.
type Permissions struct {
	Required []string `mapstructure:"required"`
	Optional []string `mapstructure:"optional"`
}

// EntrypointName returns the executable name the plugin wants run:
// the explicit entrypoint if set, the plugin name otherwise.
func (m *Manifest) EntrypointName() string {
	if m.Plugin.Entrypoint != "" {
		return m.Plugin.Entrypoint
	}
	return m.Plugin.Name
}

// Load parses a manifest file. On success the Result is nil. Any
// parse-level failure (unreadable file, broken YAML, missing plugin
// section) yields a nil Manifest and a CRITICAL Result; structural
// problems beyond that are the validator's job.
func Load(path string) (*Manifest, *Result) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, criticalResult("manifest", fmt.Sprintf("cannot read manifest: %v", err))
	}

	if v.Get("plugin") == nil {
		return nil, criticalResult("plugin", "missing plugin section")
	}

	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, criticalResult("manifest", fmt.Sprintf("invalid manifest structure: %v", err))
	}

	return &m, nil
}
