// Package sandbox runs plugin entrypoints as constrained subprocesses.
//
// A Sandbox is built per plugin from its directory, its granted
// permissions, and a Config. Validation is raising: a bad executable
// path or a hostile argument returns an error and nothing is spawned.
// File access is the opposite: CheckFileAccess answers a plain boolean
// so a running plugin's per-operation checks stay cheap, with one
// exception kept loud on purpose: a literal ".." segment raises
// ErrPathTraversal, because a well-behaved caller never writes one.
package sandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/osprey0/osprey/internal/permission"
	"github.com/osprey0/osprey/internal/security"
)

// Status classifies a finished execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusCrashed Status = "crashed"
	StatusTimeout Status = "timeout"
)

// State names the points of the execution lifecycle. Transitions are
// logged, never stored; the Sandbox keeps no mutable state between
// calls.
type State string

const (
	StateRequested  State = "requested"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateCrashed    State = "crashed"
	StateTimedOut   State = "timed_out"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = int64(1 << 20)
)

// killGrace is how long Wait tolerates lingering pipe readers after
// the context kills the child.
const killGrace = 2 * time.Second

// blockedProxyAddr refuses every connection: nothing listens on port 0.
const blockedProxyAddr = "http://127.0.0.1:0"

// pluginEnvPrefix is the only namespace of caller-supplied variables
// that may reach a plugin's environment.
const pluginEnvPrefix = "OSPREY_PLUGIN_"

// Config is the per-plugin execution policy. The zero value allows no
// file access and, through DefaultConfig, callers start from a policy
// that also blocks the network.
type Config struct {
	AllowedReadPaths  []string
	AllowedWritePaths []string
	BlockNetwork      bool
	CPUTimeLimit      time.Duration // 0 means no rlimit
	Timeout           time.Duration // wall clock, defaults to DefaultTimeout
	MaxOutputBytes    int64         // per stream, defaults to DefaultMaxOutputBytes
}

// DefaultConfig is the fail-closed baseline: no filesystem access, no
// network, 30 second wall clock, 1 MiB of output per stream.
func DefaultConfig() Config {
	return Config{
		BlockNetwork:   true,
		Timeout:        DefaultTimeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// PermissionChecker answers whether a plugin currently holds a granted
// permission. *permission.Registry satisfies it.
type PermissionChecker interface {
	Check(plugin string, t permission.Type) bool
}

// Sandbox executes one plugin under its policy. Safe for sequential
// reuse; each Execute call is an independent subprocess.
type Sandbox struct {
	plugin string
	root   string
	cfg    Config
	perms  PermissionChecker
	logger *slog.Logger
}

// New builds a Sandbox for the plugin rooted at root (the plugin's own
// directory). Zero Timeout and MaxOutputBytes take their defaults; a
// nil logger uses slog.Default.
func New(plugin, root string, cfg Config, perms PermissionChecker, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Sandbox{
		plugin: plugin,
		root:   root,
		cfg:    cfg,
		perms:  perms,
		logger: logger,
	}
}

func (s *Sandbox) transition(state State) {
	s.logger.Debug("sandbox state",
		"plugin", s.plugin,
		"state", state)
}

// ValidateExecutable vets the raw executable string, canonicalizes it,
// and requires an existing regular file inside the plugin root after
// symlink resolution. A symlink inside the root pointing outside is
// exactly the escape this closes. Returns the canonical path to exec.
func (s *Sandbox) ValidateExecutable(path string) (string, error) {
	if err := security.ScanExecutableString(path); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", security.ErrExecutableNotFound
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", security.ErrExecutableNotFound
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", security.ErrExecutableNotFound
	}
	if !info.Mode().IsRegular() {
		return "", security.ErrNotRegularFile
	}

	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", security.ErrPathOutsideAllowed
	}
	if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", security.ErrPathOutsideAllowed
	}
	return resolved, nil
}

// ValidateArgs vets every argument. Raising, like ValidateExecutable.
func (s *Sandbox) ValidateArgs(args []string) error {
	return security.ValidateArguments(s.logger, args)
}

// Environment builds the child environment from scratch. The parent
// environment is never inherited: only a PATH and LANG baseline, plus
// extra entries that are both plugin-namespaced (OSPREY_PLUGIN_*) and
// not credential-shaped. With BlockNetwork, every proxy variable is
// forced to a dead loopback address and no_proxy is forced empty, so a
// caller-supplied bypass cannot survive.
func (s *Sandbox) Environment(extra map[string]string) []string {
	env := make([]string, 0, len(extra)+16)

	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	env = append(env, "PATH="+path)

	lang := os.Getenv("LANG")
	if lang == "" {
		lang = "C.UTF-8"
	}
	env = append(env, "LANG="+lang)

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasPrefix(name, pluginEnvPrefix) {
			s.logger.Debug("dropping env var outside plugin namespace",
				"plugin", s.plugin, "name", name)
			continue
		}
		if security.IsSensitiveEnvName(name) {
			s.logger.Warn("dropping credential-shaped env var",
				"plugin", s.plugin,
				"name", name,
				"security_event", "sensitive_env_blocked")
			continue
		}
		env = append(env, name+"="+extra[name])
	}

	if s.cfg.BlockNetwork {
		for _, v := range []string{"http_proxy", "https_proxy", "ftp_proxy", "all_proxy"} {
			env = append(env, v+"="+blockedProxyAddr)
			env = append(env, strings.ToUpper(v)+"="+blockedProxyAddr)
		}
		env = append(env,
			"no_proxy=",
			"NO_PROXY=",
			"OSPREY_OFFLINE=1",
			"HF_HUB_OFFLINE=1",
			"TRANSFORMERS_OFFLINE=1",
		)
	}

	return env
}

// CheckFileAccess is the boolean per-operation policy answer: may the
// plugin read (or write) path right now?
//
// Order matters. The permission gate runs first: without a granted
// read:documents / write:documents, the answer is no regardless of
// path. A literal ".." in the raw path then raises ErrPathTraversal.
// Only after that is the path canonicalized and tested against the
// read or write allow-list; the two lists are independent. Every
// resolution failure is an ordinary denial: an unresolvable path is a
// denied path.
func (s *Sandbox) CheckFileAccess(path string, write bool) (bool, error) {
	required := permission.ReadDocuments
	allowed := s.cfg.AllowedReadPaths
	if write {
		required = permission.WriteDocuments
		allowed = s.cfg.AllowedWritePaths
	}

	if s.perms == nil || !s.perms.Check(s.plugin, required) {
		s.logger.Warn("file access denied without grant",
			"plugin", s.plugin,
			"permission", required,
			"write", write,
			"security_event", "file_access_denied")
		return false, nil
	}

	if security.ContainsTraversal(path) {
		s.logger.Warn("file access rejected",
			"plugin", s.plugin,
			"write", write,
			"security_event", "path_traversal_attempt")
		return false, security.ErrPathTraversal
	}

	if len(allowed) == 0 {
		return false, nil
	}

	validator, err := security.NewPath(allowed)
	if err != nil {
		return false, nil
	}
	if _, err := validator.Validate(path); err != nil {
		return false, nil
	}
	return true, nil
}
