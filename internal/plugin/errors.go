package plugin

import (
	"errors"
	"fmt"

	"github.com/osprey0/osprey/internal/manifest"
)

// Sentinel errors for the plugin lifecycle. Callers branch with
// errors.Is; the wrapped messages carry the plugin name.
var (
	ErrNotFound          = errors.New("plugin not found")
	ErrNotEnabled        = errors.New("plugin not enabled")
	ErrManifestInvalid   = errors.New("manifest validation failed")
	ErrConsentDenied     = errors.New("required permission consent denied")
	ErrUnknownFactory    = errors.New("no factory registered for plugin")
	ErrRateLimited       = errors.New("plugin execution rate limited")
	ErrIntegrityMismatch = errors.New("plugin entrypoint integrity mismatch")
	ErrNotCommand        = errors.New("plugin is not a command plugin")
	ErrWrongType         = errors.New("plugin capability type mismatch")
	ErrPermissionDenied  = errors.New("required permission not granted")
)

// ManifestError carries the validation findings behind
// ErrManifestInvalid so the CLI can print them.
type ManifestError struct {
	Plugin string
	Result *manifest.Result
}

func (e *ManifestError) Error() string {
	blocking := len(e.Result.Critical()) + len(e.Result.Errors())
	return fmt.Sprintf("manifest validation failed for %q: %d blocking issues, %d warnings",
		e.Plugin, blocking, len(e.Result.Warnings()))
}

func (e *ManifestError) Unwrap() error { return ErrManifestInvalid }
