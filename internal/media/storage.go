package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// originalDir is the storage subdirectory holding uploads byte for byte.
const originalDir = "original"

var (
	// ErrInsecureFilename rejects names that could escape the storage root.
	ErrInsecureFilename = errors.New("insecure filename")
	// ErrFileExists is returned by Save when the name is already taken.
	ErrFileExists = errors.New("file already exists")
)

// isSecureFilename accepts a single plain path element: no separators, no
// "..", no leading dot and not absolute.
func isSecureFilename(name string) bool {
	switch {
	case name == "", name[0] == '.', filepath.IsAbs(name):
		return false
	case strings.Contains(name, ".."), strings.ContainsAny(name, `/\`):
		return false
	}
	return true
}

// LocalStorage is the on-disk blob store for uploads. Only originals are
// written; resized variants live in the cache.
type LocalStorage struct {
	root string // {media_dir}/original
}

// NewLocalStorage prepares {baseDir}/original and returns a store over it.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	root := filepath.Join(baseDir, originalDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) locate(name string) (string, error) {
	if !isSecureFilename(name) {
		return "", fmt.Errorf("%w: %q", ErrInsecureFilename, name)
	}
	return filepath.Join(s.root, name), nil
}

// Save creates name with data. Existing files are never overwritten, and a
// partially written file is removed.
func (s *LocalStorage) Save(name string, data []byte) (err error) {
	path, err := s.locate(name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	case err != nil:
		return fmt.Errorf("media: create %s: %w", name, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("media: close %s: %w", name, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("media: write %s: %w", name, err)
	}
	return nil
}

// Read loads a stored original.
func (s *LocalStorage) Read(name string) ([]byte, error) {
	path, err := s.locate(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: read %s: %w", name, err)
	}
	return data, nil
}

// Delete removes a stored original. A file that is already gone is fine.
func (s *LocalStorage) Delete(name string) error {
	path, err := s.locate(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: remove %s: %w", name, err)
	}
	return nil
}

// Path is the absolute location of name on disk, "" for an unsafe name.
func (s *LocalStorage) Path(name string) string {
	path, err := s.locate(name)
	if err != nil {
		return ""
	}
	return path
}
