package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// FileStore persists the CLI identity in a YAML file guarded by a lock file,
// so concurrent CLI invocations do not interleave writes.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is the session file under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "firetrack", "session.yaml"), nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) lock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return nil, err
	}
	l := flock.New(f.path + ".lock")
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	return l, nil
}

// Load returns the stored identity, or false when there is none.
func (f *FileStore) Load() (Identity, bool, error) {
	l, err := f.lock()
	if err != nil {
		return Identity{}, false, err
	}
	defer l.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return Identity{}, false, fmt.Errorf("parse session file: %w", err)
	}
	if id.UserID == "" {
		return Identity{}, false, nil
	}
	return id, true, nil
}

// Save writes id, replacing any previous session.
func (f *FileStore) Save(id Identity) error {
	l, err := f.lock()
	if err != nil {
		return err
	}
	defer l.Unlock()

	data, err := yaml.Marshal(id)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Remove deletes the session file. A missing file is not an error.
func (f *FileStore) Remove() error {
	l, err := f.lock()
	if err != nil {
		return err
	}
	defer l.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
