package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// defaultSupportedExtensions are the file types indexed by default.
var defaultSupportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".c":    true,
	".cpp":  true,
	".h":    true,
	".hpp":  true,
	".rs":   true,
	".rb":   true,
	".php":  true,
	".sh":   true,
	".yaml": true,
	".yml":  true,
	".json": true,
	".xml":  true,
	".html": true,
	".css":  true,
	".sql":  true,
}

// MaxFileSize is the largest file read for indexing. Chunking keeps each
// embedding input small regardless of file size, so this only bounds how
// much of a single file is held in memory at once.
const MaxFileSize = 1 << 20 // 1MB

// IndexResult reports what a directory walk indexed.
type IndexResult struct {
	FilesIndexed int
	FilesSkipped int // unsupported extension, oversized, or gitignored
	FilesFailed  int // unreadable, unembeddable, or unstorable
	Chunks       int
	TotalSize    int64 // bytes of content read from indexed files
	Duration     time.Duration
}

// IndexFile indexes a single file and returns the number of chunks stored.
// The path must resolve inside the configured document roots.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	absPath, err := idx.paths.Validate(path)
	if err != nil {
		return 0, err
	}

	// Read through a root confined to the parent directory, so the file
	// cannot be swapped for an escaping symlink between validation and read.
	root, err := os.OpenRoot(filepath.Dir(absPath))
	if err != nil {
		return 0, fmt.Errorf("failed to open parent directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	fileName := filepath.Base(absPath)
	info, err := root.Stat(fileName)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory, use IndexDir instead", path)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if !idx.extensions[ext] {
		return 0, fmt.Errorf("unsupported file type: %q", ext)
	}
	if info.Size() > MaxFileSize {
		return 0, fmt.Errorf("file %s (%d bytes) exceeds the %d byte indexing limit", fileName, info.Size(), MaxFileSize)
	}

	content, err := root.ReadFile(fileName)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	return idx.indexContent(ctx, absPath, SourceTypeFile, string(content), map[string]string{
		"file_name": fileName,
		"file_ext":  ext,
		"file_size": strconv.FormatInt(info.Size(), 10),
	})
}

// IndexDir walks dir and indexes every supported file under it, honoring
// the directory's .gitignore when one exists. Individual files that fail
// are counted and skipped; the walk itself stops only on context
// cancellation or an unwalkable root.
func (idx *Indexer) IndexDir(ctx context.Context, dir string) (*IndexResult, error) {
	start := time.Now()

	absDir, err := idx.paths.Validate(dir)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	// A missing or malformed .gitignore leaves the walk unfiltered.
	var gitIgnore *ignore.GitIgnore
	gitignorePath := filepath.Join(absDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		if compiled, err := ignore.CompileIgnoreFile(gitignorePath); err == nil {
			gitIgnore = compiled
		}
	}

	result := &IndexResult{}
	err = filepath.Walk(absDir, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			result.FilesFailed++
			return nil // keep walking
		}

		relPath, err := filepath.Rel(absDir, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}

		if gitIgnore != nil && gitIgnore.MatchesPath(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			result.FilesSkipped++
			return nil
		}

		if info.IsDir() {
			if info.Name() == ".git" && path != absDir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !idx.extensions[ext] {
			result.FilesSkipped++
			return nil
		}
		if info.Size() > MaxFileSize {
			result.FilesSkipped++
			return nil
		}

		// Read through the confined root; escaping symlinks fail here.
		content, err := root.ReadFile(relPath)
		if err != nil {
			result.FilesFailed++
			return nil
		}

		chunks, err := idx.indexContent(ctx, path, SourceTypeFile, string(content), map[string]string{
			"file_name": info.Name(),
			"file_ext":  ext,
			"file_size": strconv.FormatInt(info.Size(), 10),
		})
		if err != nil {
			idx.logger.Warn("failed to index file", "path", path, "error", err)
			result.FilesFailed++
			return nil
		}

		result.FilesIndexed++
		result.Chunks += chunks
		result.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	result.Duration = time.Since(start)
	idx.logger.Info("indexed directory",
		"dir", absDir,
		"files", result.FilesIndexed,
		"skipped", result.FilesSkipped,
		"failed", result.FilesFailed,
		"chunks", result.Chunks)
	return result, nil
}
