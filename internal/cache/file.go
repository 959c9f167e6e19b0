package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists each key as a file under dir. Files are 0600 because the
// cached user state is personal data.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// DefaultDir resolves the per-user config directory for the given app name,
// honoring XDG_CONFIG_HOME.
func DefaultDir(app string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, app)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", app)
}

// NewFileStore creates dir (0700) if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	// Keys are internal constants, but keep path traversal out anyway.
	return filepath.Join(s.dir, strings.ReplaceAll(key, string(os.PathSeparator), "_")+".bin")
}

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return b, true, nil
}

func (s *FileStore) Set(key string, value []byte) error {
	// Write via temp file + rename so a crash mid-write cannot leave a torn blob.
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
