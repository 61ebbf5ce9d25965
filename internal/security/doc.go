// Package security provides the low-level validators the plugin sandbox is
// built on.
//
// # Overview
//
// This package implements validators that prevent security issues such as:
//   - Path traversal attacks (CWE-22)
//   - Command and argument injection (CWE-78)
//   - Server-Side Request Forgery (SSRF) (CWE-918)
//   - Credential leakage into plugin subprocess environments
//
// The sandbox composes these validators into its execution policy; the
// knowledge indexer uses the URL validator for outbound fetches. All
// validators fail closed: anything that cannot be proven safe is rejected.
//
// # Validators
//
// Path Validator: ensures file operations stay within allowed directories,
// resolving symlinks so a link inside an allowed directory cannot reach
// outside it.
//
//	pathValidator, err := security.NewPath([]string{pluginRoot})
//	resolved, err := pathValidator.Validate(userInput)
//	if errors.Is(err, security.ErrSymlinkOutsideAllowed) { ... }
//
// Argument Validator: rejects null bytes, shell metacharacters, and
// oversized values in plugin argument vectors. osprey never passes argv
// through a shell, but plugin code might; the stricter check costs nothing
// legitimate plugins need.
//
//	if err := security.ValidateArgument(arg); err != nil { ... }
//
// Environment classification: IsSensitiveEnvName reports whether a variable
// name looks credential-shaped (API keys, tokens, cloud secrets). The
// sandbox builds child environments from scratch and uses this to refuse
// explicit passthrough of anything sensitive.
//
// URL Validator: prevents SSRF by blocking private ranges, loopback, and
// cloud metadata endpoints, with a SafeTransport that re-validates resolved
// IPs to defeat DNS rebinding.
//
//	validator := security.NewURL()
//	client := &http.Client{Transport: validator.SafeTransport()}
//
// Prompt Validator: scans retrieved document text for prompt-injection
// markers. The answer pipeline drops flagged passages before they reach
// the synthesis prompt.
//
// # Design Philosophy
//
// Validators raise (return errors) on violations; policy decisions that
// answer "may this plugin do X" live in the sandbox and return booleans.
// Error messages never echo the offending value back: callers get a
// sentinel to branch on and the slog record carries the details.
package security
