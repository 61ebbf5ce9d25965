package security

import (
	"fmt"
	"log/slog"
	"strings"
)

// MaxArgLen is the maximum byte length of a single plugin argument.
const MaxArgLen = 10000

// argMetachars lists characters rejected in plugin arguments. osprey runs
// plugins with exec.Command, which never shell-interprets argv, but plugin
// code routinely re-passes arguments to shells and interpreters of its
// own. Rejecting the metacharacters here costs legitimate arguments
// nothing and removes the whole downstream injection class.
const argMetachars = ";|&`\n><$()"

// ValidateArgument checks a single plugin argument.
//
// Rejected: null bytes, any shell metacharacter from argMetachars, and
// arguments over MaxArgLen bytes. Returns a sentinel error wrapped with
// position detail; the argument value itself is never echoed into the
// error (slog carries it for operators).
func ValidateArgument(arg string) error {
	if strings.Contains(arg, "\x00") {
		return fmt.Errorf("argument %w", ErrNullByte)
	}

	if i := strings.IndexAny(arg, argMetachars); i >= 0 {
		return fmt.Errorf("%w: %q", ErrShellMetachar, rune(arg[i]))
	}

	if len(arg) > MaxArgLen {
		return fmt.Errorf("%w (%d bytes, max %d)", ErrArgumentTooLong, len(arg), MaxArgLen)
	}

	return nil
}

// ValidateArguments checks every argument in a plugin argv, logging the
// offending index as a security event on failure.
func ValidateArguments(logger *slog.Logger, args []string) error {
	for i, arg := range args {
		if err := ValidateArgument(arg); err != nil {
			if logger != nil {
				logger.Warn("rejected plugin argument",
					"arg_index", i,
					"arg_len", len(arg),
					"error", err,
					"security_event", "dangerous_argument")
			}
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// ScanExecutableString rejects raw executable path strings that look like
// shell invocations before any filesystem resolution happens. Catching
// `; rm -rf ~`, `$(...)`, or `sh -c ...` here means the path validator
// never touches attacker syntax. Plugin directory names cannot contain
// whitespace, so a space in the raw string is always an embedded command
// line, never a legitimate path.
func ScanExecutableString(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("executable path is empty")
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("executable path %w", ErrNullByte)
	}
	if i := strings.IndexAny(path, argMetachars); i >= 0 {
		return fmt.Errorf("executable path %w: %q", ErrShellMetachar, rune(path[i]))
	}
	if strings.ContainsAny(path, " \t") {
		return fmt.Errorf("executable path contains whitespace")
	}
	return nil
}
