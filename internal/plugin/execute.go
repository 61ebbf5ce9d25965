package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/osprey0/osprey/internal/audit"
	"github.com/osprey0/osprey/internal/manifest"
	"github.com/osprey0/osprey/internal/permission"
	"github.com/osprey0/osprey/internal/sandbox"
	"github.com/osprey0/osprey/internal/security"
)

// limiterFor returns the per-plugin execution limiter, creating it on
// first use. Each plugin gets its own bucket so a noisy plugin cannot
// starve the rest.
func (m *Manager) limiterFor(name string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[name]
	if !ok {
		interval := time.Minute / time.Duration(m.cfg.ExecutionsPerMinute)
		lim = rate.NewLimiter(rate.Every(interval), m.cfg.RateBurst)
		m.limiters[name] = lim
	}
	return lim
}

// Execute runs an enabled command plugin inside its sandbox. The
// entrypoint digest is re-checked against the value recorded at load
// time immediately before the run. Operational failures (non-zero
// exit, timeout) come back in the Result; an error return means the
// request never passed the gates.
func (m *Manager) Execute(ctx context.Context, name string, args []string) (*sandbox.Result, error) {
	ctx, span := m.tracer.Start(ctx, "osprey.plugin.execute",
		trace.WithAttributes(attribute.String("plugin.name", name)))
	defer span.End()

	m.mu.Lock()
	entry, ok := m.enabled[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotEnabled, name)
	}
	if entry.Type != manifest.TypeCommand {
		return nil, fmt.Errorf("%w: %q is a %s plugin", ErrNotCommand, name, entry.Type)
	}

	if !m.limiterFor(name).Allow() {
		m.logger.Warn("plugin execution rate limited",
			"plugin", name,
			"security_event", "plugin_rate_limited")
		return nil, fmt.Errorf("%w: %q", ErrRateLimited, name)
	}

	dir := filepath.Join(m.cfg.PluginsDir, name)
	exe := filepath.Join(dir, entry.Entrypoint)
	sum, err := FileSHA256(exe)
	if err != nil || sum != entry.SHA256 {
		details := map[string]any{"violation": "integrity_mismatch"}
		if err != nil {
			details["error"] = err.Error()
		}
		m.auditor.Log(ctx, audit.Event{
			Type:    audit.EventSandboxViolation,
			Plugin:  name,
			Version: entry.Version,
			Result:  audit.ResultDenied,
			Details: details,
		})
		m.logger.Warn("plugin entrypoint changed since enable",
			"plugin", name,
			"security_event", "integrity_mismatch")
		span.SetAttributes(attribute.String("plugin.status", "integrity_mismatch"))
		return nil, fmt.Errorf("%w: %q", ErrIntegrityMismatch, name)
	}

	res, err := m.sandboxFor(name, dir).Execute(ctx, exe, args, map[string]string{
		"OSPREY_PLUGIN_NAME":    name,
		"OSPREY_PLUGIN_VERSION": entry.Version,
	})
	if err != nil {
		m.auditor.Log(ctx, audit.Event{
			Type:    audit.EventSandboxViolation,
			Plugin:  name,
			Version: entry.Version,
			Result:  audit.ResultDenied,
			Details: map[string]any{"violation": violationName(err), "error": err.Error()},
		})
		span.SetAttributes(attribute.String("plugin.status", "rejected"))
		return nil, err
	}

	evt := audit.Event{
		Plugin:   name,
		Version:  entry.Version,
		Duration: res.Duration,
		Details: map[string]any{
			"exit_code": res.ExitCode,
			"status":    string(res.Status),
			"truncated": res.OutputTruncated,
		},
	}
	if res.Status == sandbox.StatusSuccess {
		evt.Type = audit.EventPluginExecuted
		evt.Result = audit.ResultSuccess
	} else {
		evt.Type = audit.EventPluginFailed
		evt.Result = audit.ResultFailure
	}
	m.auditor.Log(ctx, evt)

	span.SetAttributes(
		attribute.String("plugin.status", string(res.Status)),
		attribute.Int64("plugin.duration_ms", res.Duration.Milliseconds()),
	)
	return res, nil
}

// sandboxFor derives the per-plugin sandbox from current grants: the
// plugin's own directory is always readable, document roots join the
// read/write sets only with the matching grant, and the network
// blackhole lifts only with a network grant.
func (m *Manager) sandboxFor(name, dir string) *sandbox.Sandbox {
	cfg := m.cfg.Sandbox
	cfg.AllowedReadPaths = []string{dir}
	cfg.AllowedWritePaths = nil
	if m.perms.Check(name, permission.ReadDocuments) {
		cfg.AllowedReadPaths = append(cfg.AllowedReadPaths, m.cfg.DocumentRoots...)
	}
	if m.perms.Check(name, permission.WriteDocuments) {
		cfg.AllowedWritePaths = append(cfg.AllowedWritePaths, m.cfg.DocumentRoots...)
	}
	cfg.BlockNetwork = m.cfg.ForceBlockNetwork ||
		(!m.perms.Check(name, permission.NetworkAPI) &&
			!m.perms.Check(name, permission.NetworkWeb))
	return sandbox.New(name, dir, cfg, m.perms, m.logger)
}

// violationName maps a sandbox rejection to the stable name recorded
// in the audit trail.
func violationName(err error) string {
	switch {
	case errors.Is(err, security.ErrPathTraversal):
		return "path_traversal"
	case errors.Is(err, security.ErrPathOutsideAllowed):
		return "path_outside_allowed"
	case errors.Is(err, security.ErrSymlinkOutsideAllowed):
		return "symlink_outside_allowed"
	case errors.Is(err, security.ErrExecutableNotFound):
		return "executable_not_found"
	case errors.Is(err, security.ErrNotRegularFile):
		return "not_regular_file"
	case errors.Is(err, security.ErrShellMetachar):
		return "shell_metachar"
	case errors.Is(err, security.ErrNullByte):
		return "null_byte"
	case errors.Is(err, security.ErrArgumentTooLong):
		return "argument_too_long"
	default:
		return "sandbox_rejection"
	}
}
