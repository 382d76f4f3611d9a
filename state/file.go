package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileStore keeps the snapshot in a YAML file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes snap atomically: a temp file in the same directory is renamed
// over the target.
func (f *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create state dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return errors.Wrap(err, "create temp state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp state file")
	}

	return errors.Wrapf(os.Rename(tmp.Name(), f.path), "replace %s", f.path)
}

// Load reads the snapshot, returning ErrNotFound when the file does not exist.
func (f *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "read %s", f.path)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode %s", f.path)
	}
	return snap, snap.Validate()
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }
