package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path validates file paths against a fixed set of allowed directories.
// Used to prevent path traversal attacks (CWE-22).
//
// Unlike a simple prefix check, Validate resolves symlinks before the
// authoritative containment test, so a link planted inside an allowed
// directory cannot reach outside it. An empty allowed set denies every
// path: there is no implicit working-directory grant.
type Path struct {
	allowedDirs []string
}

// NewPath creates a path validator for the given allowed directories.
// Each directory is made absolute and symlink-resolved up front so that
// containment checks compare canonical paths on both sides.
func NewPath(allowedDirs []string) (*Path, error) {
	canonical := make([]string, 0, len(allowedDirs))
	for _, dir := range allowedDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving allowed directory: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
			absDir = resolved
		}
		canonical = append(canonical, filepath.Clean(absDir))
	}
	return &Path{allowedDirs: canonical}, nil
}

// Validate checks a path and returns its canonical absolute form.
//
// Steps: reject null bytes, make absolute, resolve symlinks (walking up to
// the deepest existing ancestor when the final components do not exist
// yet, so paths about to be created still validate), then require the
// resolved path to sit within an allowed directory. A path that was
// lexically inside but escaped through a symlink fails with
// ErrSymlinkOutsideAllowed; everything else outside fails with
// ErrPathOutsideAllowed.
func (p *Path) Validate(path string) (string, error) {
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("validating path: %w", ErrNullByte)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	resolved, err := p.resolve(absPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	if p.within(resolved) {
		return resolved, nil
	}

	// Distinguish a symlink escape from a plainly foreign path: if
	// resolution changed the path, a link redirected it.
	if resolved != absPath {
		return "", ErrSymlinkOutsideAllowed
	}
	return "", ErrPathOutsideAllowed
}

// resolve canonicalizes absPath. When the tail of the path does not exist,
// the deepest existing ancestor is symlink-resolved and the missing
// components are re-joined, so new-file paths resolve the same way the
// file will once created.
func (p *Path) resolve(absPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir := absPath
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding an existing ancestor.
			return absPath, nil
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent

		resolved, err = filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
}

// within reports whether path sits inside (or is) one of the allowed
// directories. Both sides are canonical by the time this runs.
func (p *Path) within(path string) bool {
	for _, dir := range p.allowedDirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ContainsTraversal reports whether the raw, pre-resolution path contains
// a parent-directory component. The sandbox treats this as an explicit
// violation rather than an ordinary denial: a well-behaved caller has no
// reason to write ".." when the allowed roots are absolute.
func ContainsTraversal(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if part == ".." {
			return true
		}
	}
	return false
}

