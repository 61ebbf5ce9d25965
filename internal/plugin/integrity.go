package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileSHA256 returns the hex-encoded SHA-256 digest of the file at
// path. The digest is recorded when a command plugin is enabled and
// re-checked before every execution, so a swapped entrypoint never
// runs.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open entrypoint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash entrypoint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
