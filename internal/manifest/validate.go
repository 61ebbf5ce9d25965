package manifest

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/osprey0/osprey/internal/permission"
)

// Validation limits. Names and permission counts are hard errors;
// description and dependency limits only cost score.
const (
	MaxNameLen        = 64
	MaxDescriptionLen = 500
	MaxPermissions    = 10
	MaxDependencies   = 20
)

// Severity grades an Issue. CRITICAL means the manifest could not even
// be parsed; ERROR blocks registration; WARNING costs score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

// Result is the outcome of validating one manifest. Passed is true iff
// there are no CRITICAL and no ERROR issues. Score starts at 1.0 and
// loses 0.1 per WARNING (floor 0.0); a CRITICAL issue forces it to 0.
type Result struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Issues []Issue `json:"issues"`
}

// Critical returns the CRITICAL issues.
func (r *Result) Critical() []Issue { return r.filter(SeverityCritical) }

// Errors returns the ERROR issues.
func (r *Result) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns the WARNING issues.
func (r *Result) Warnings() []Issue { return r.filter(SeverityWarning) }

func (r *Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

func (r *Result) add(sev Severity, field, msg string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Field: field, Message: msg})
}

// finalize computes Passed and Score from the accumulated issues.
func (r *Result) finalize() {
	warnings := 0
	r.Passed = true
	for _, is := range r.Issues {
		switch is.Severity {
		case SeverityCritical:
			r.Passed = false
			r.Score = 0
			return
		case SeverityError:
			r.Passed = false
		case SeverityWarning:
			warnings++
		}
	}
	if warnings > 10 {
		warnings = 10
	}
	r.Score = float64(10-warnings) / 10
}

func criticalResult(field, msg string) *Result {
	r := &Result{Issues: []Issue{{Severity: SeverityCritical, Field: field, Message: msg}}}
	r.finalize()
	return r
}

var (
	nameRx       = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	permissionRx = regexp.MustCompile(`^[a-z]+:[a-z]+$`)
)

// wildcardConstraints are dependency constraints that pin nothing.
var wildcardConstraints = map[string]bool{
	"*": true, "x": true, "X": true, "any": true, "latest": true,
}

var validTypes = map[string]bool{
	TypeEmbedder:  true,
	TypeRetriever: true,
	TypeProcessor: true,
	TypeCommand:   true,
}

// Validator runs the manifest checks in a fixed order.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator. A nil logger uses slog.Default.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate loads and validates the manifest at path. The returned
// Manifest is nil when the file does not parse.
func (v *Validator) Validate(path string) (*Manifest, *Result) {
	m, res := Load(path)
	if res != nil {
		v.logger.Warn("manifest rejected at parse",
			"path", filepath.Base(path),
			"security_event", "manifest_parse_failure")
		return nil, res
	}
	return m, v.ValidateManifest(m)
}

// ValidateManifest validates an already-parsed manifest.
func (v *Validator) ValidateManifest(m *Manifest) *Result {
	res := &Result{}
	if m == nil {
		return criticalResult("manifest", "no manifest")
	}

	v.checkIdentity(m, res)
	v.checkName(m, res)
	v.checkVersion(m, res)
	v.checkType(m, res)
	v.checkDescription(m, res)
	v.checkEntrypoint(m, res)
	v.checkPermissions(m, res)
	v.checkDependencies(m, res)

	res.finalize()
	if !res.Passed {
		v.logger.Warn("manifest validation failed",
			"plugin", m.Plugin.Name,
			"errors", len(res.Errors()),
			"warnings", len(res.Warnings()))
	}
	return res
}

func (v *Validator) checkIdentity(m *Manifest, res *Result) {
	fields := []struct {
		name  string
		value string
	}{
		{"plugin.name", m.Plugin.Name},
		{"plugin.version", m.Plugin.Version},
		{"plugin.type", m.Plugin.Type},
		{"plugin.description", m.Plugin.Description},
		{"plugin.author", m.Plugin.Author},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			res.add(SeverityError, f.name, "required field is missing")
		}
	}
}

func (v *Validator) checkName(m *Manifest, res *Result) {
	name := m.Plugin.Name
	if name == "" {
		return
	}
	if len(name) > MaxNameLen {
		res.add(SeverityError, "plugin.name",
			fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLen))
	}
	if !nameRx.MatchString(name) {
		res.add(SeverityError, "plugin.name",
			"may only contain letters, digits, hyphens, and underscores")
	}
}

func (v *Validator) checkVersion(m *Manifest, res *Result) {
	ver := m.Plugin.Version
	if ver == "" {
		return
	}
	if strings.HasPrefix(ver, "v") || strings.HasPrefix(ver, "V") {
		res.add(SeverityError, "plugin.version", `must not carry a "v" prefix`)
		return
	}
	if _, err := semver.StrictNewVersion(ver); err != nil {
		res.add(SeverityError, "plugin.version",
			fmt.Sprintf("not a strict semantic version: %v", err))
		return
	}
	// StrictNewVersion accepts build metadata; a manifest version must
	// identify exactly one release, so it may not.
	if strings.Contains(ver, "+") {
		res.add(SeverityError, "plugin.version", "build metadata is not allowed")
	}
}

func (v *Validator) checkType(m *Manifest, res *Result) {
	typ := m.Plugin.Type
	if typ == "" {
		return
	}
	if !validTypes[typ] {
		res.add(SeverityError, "plugin.type",
			fmt.Sprintf("unknown plugin type %q (want embedder, retriever, processor, or command)", typ))
	}
}

func (v *Validator) checkDescription(m *Manifest, res *Result) {
	if len(m.Plugin.Description) > MaxDescriptionLen {
		res.add(SeverityWarning, "plugin.description",
			fmt.Sprintf("exceeds %d characters", MaxDescriptionLen))
	}
}

func (v *Validator) checkEntrypoint(m *Manifest, res *Result) {
	ep := m.Plugin.Entrypoint
	if ep == "" {
		return
	}
	if ep == "." || ep == ".." || strings.ContainsAny(ep, `/\`) || ep != filepath.Base(ep) {
		res.add(SeverityError, "plugin.entrypoint", "must be a bare filename")
	}
}

func (v *Validator) checkPermissions(m *Manifest, res *Result) {
	seen := make(map[string]bool)
	total := 0

	check := func(field string, perms []string) {
		for _, p := range perms {
			total++
			if !permissionRx.MatchString(p) {
				res.add(SeverityError, field,
					fmt.Sprintf("invalid permission format: %q", p))
				continue
			}
			if _, err := permission.ParseType(p); err != nil {
				res.add(SeverityError, field,
					fmt.Sprintf("unknown permission %q", p))
			}
			if seen[p] {
				res.add(SeverityError, field,
					fmt.Sprintf("duplicate permission %q", p))
			}
			seen[p] = true
		}
	}

	check("permissions.required", m.Permissions.Required)
	check("permissions.optional", m.Permissions.Optional)

	if total > MaxPermissions {
		res.add(SeverityError, "permissions",
			fmt.Sprintf("declares %d permissions, maximum is %d", total, MaxPermissions))
	}
}

func (v *Validator) checkDependencies(m *Manifest, res *Result) {
	if len(m.Dependencies) > MaxDependencies {
		res.add(SeverityWarning, "dependencies",
			fmt.Sprintf("declares %d dependencies, maximum is %d", len(m.Dependencies), MaxDependencies))
	}

	for name, constraint := range m.Dependencies {
		c := strings.TrimSpace(constraint)
		if c == "" || wildcardConstraints[c] {
			res.add(SeverityWarning, "dependencies."+name, "unpinned dependency")
			continue
		}
		if _, err := semver.NewConstraint(c); err != nil {
			res.add(SeverityWarning, "dependencies."+name,
				fmt.Sprintf("invalid constraint %q", c))
		}
	}
}
