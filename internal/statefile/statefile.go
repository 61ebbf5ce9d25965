// Package statefile persists osprey's JSON state documents (permission
// grants, consent records, the enabled-plugin registry) with exclusive
// file locking, so concurrent osprey processes cannot interleave writes.
//
// Locking uses a ".lock" sibling file rather than the data file itself,
// which keeps the lock stable across rewrites of the data file.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// File modes for state documents. State files carry security decisions,
// so they are owner-only.
const (
	DirMode  = 0o700
	FileMode = 0o600
)

const (
	maxLockRetries = 50
	lockRetryDelay = 10 * time.Millisecond
)

// ErrLocked indicates another process held the state lock for the whole
// retry window.
var ErrLocked = errors.New("state file is locked by another process")

// WithLock runs fn while holding the exclusive lock for path.
func WithLock(path string, fn func() error) error {
	lock := flock.New(path + ".lock")

	var locked bool
	var err error
	for range maxLockRetries {
		locked, err = lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring state lock: %w", err)
		}
		if locked {
			break
		}
		time.Sleep(lockRetryDelay)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// Load reads the JSON document at path into v under the file lock.
// A missing file is not an error; the second return is false and v is
// left untouched. A malformed file IS an error: silently resetting
// security state would widen what plugins may do.
func Load(path string, v any) (bool, error) {
	var found bool
	err := WithLock(path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading state file: %w", err)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parsing state file %s: %w", filepath.Base(path), err)
		}
		found = true
		return nil
	})
	return found, err
}

// Save writes v as indented JSON to path under the file lock, creating
// the parent directory when needed.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	data = append(data, '\n')

	return WithLock(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
		if err := os.WriteFile(path, data, FileMode); err != nil {
			return fmt.Errorf("writing state file: %w", err)
		}
		return nil
	})
}
