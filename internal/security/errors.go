package security

import "errors"

// Sentinel errors for validation failures. Callers branch with errors.Is;
// messages stay generic so attacker-controlled paths never echo back in
// user-facing errors.
var (
	// ErrPathTraversal indicates a path containing a parent-directory
	// component before resolution.
	ErrPathTraversal = errors.New("path traversal detected")

	// ErrPathOutsideAllowed indicates a path resolving outside every
	// allowed directory.
	ErrPathOutsideAllowed = errors.New("path is outside allowed directories")

	// ErrSymlinkOutsideAllowed indicates a symlink inside an allowed
	// directory whose target escapes it.
	ErrSymlinkOutsideAllowed = errors.New("symbolic link points outside allowed directories")

	// ErrNullByte indicates an embedded NUL in a path or argument.
	ErrNullByte = errors.New("contains null byte")

	// ErrShellMetachar indicates a shell metacharacter in a value that is
	// never shell-interpreted by osprey itself but may be by plugin code.
	ErrShellMetachar = errors.New("contains shell metacharacter")

	// ErrArgumentTooLong indicates an argument over MaxArgLen bytes.
	ErrArgumentTooLong = errors.New("argument too long")

	// ErrExecutableNotFound indicates an executable path that does not
	// resolve to an existing file.
	ErrExecutableNotFound = errors.New("executable does not exist")

	// ErrNotRegularFile indicates an executable path resolving to a
	// directory, device, or other non-regular file.
	ErrNotRegularFile = errors.New("not a regular file")
)
