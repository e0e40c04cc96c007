package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FilesystemBackend stores artifacts as files under a base directory.
// Files are organized as {basePath}/{key}.
type FilesystemBackend struct {
	basePath string
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
	}
}

// validateKey rejects keys that could escape the base directory.
func (f *FilesystemBackend) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("invalid key: empty")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("invalid key: null byte not allowed")
	}
	if filepath.IsAbs(key) {
		return fmt.Errorf("invalid key: absolute paths not allowed")
	}
	if len(key) >= 2 && key[1] == ':' {
		return fmt.Errorf("invalid key: absolute paths not allowed")
	}

	clean := filepath.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid key: path traversal not allowed")
	}

	return nil
}

func (f *FilesystemBackend) buildPath(key string) (string, error) {
	if err := f.validateKey(key); err != nil {
		return "", err
	}

	fullPath := filepath.Join(f.basePath, filepath.FromSlash(key))

	cleanPath := filepath.Clean(fullPath)
	cleanBase := filepath.Clean(f.basePath)
	if !strings.HasPrefix(cleanPath, cleanBase) {
		return "", fmt.Errorf("invalid key: path escapes base directory")
	}

	return cleanPath, nil
}

// Put stores data under the key, creating parent directories as needed.
func (f *FilesystemBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	fullPath, err := f.buildPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}

// Get returns the stored payload. Caller must close the returned ReadCloser.
func (f *FilesystemBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := f.buildPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}

	return file, nil
}

// Delete removes the file for the key. Missing files are not an error.
func (f *FilesystemBackend) Delete(ctx context.Context, key string) error {
	fullPath, err := f.buildPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}

	return nil
}

// Sweep deletes every stored file whose modification time is before the
// cutoff, then clears out directories left empty.
func (f *FilesystemBackend) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0

	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweeping artifacts: %w", err)
	}

	f.removeEmptyDirs()

	return removed, nil
}

func (f *FilesystemBackend) removeEmptyDirs() {
	var dirs []string
	filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != f.basePath {
			dirs = append(dirs, path)
		}
		return nil
	})

	// Deepest first so parents empty out as children are removed.
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
}
