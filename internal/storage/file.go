package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// File keeps each document in <dir>/<name>.json. Update is serialised within
// the process only, so a data dir must not be shared by two processes.
type File struct {
	mu  sync.RWMutex
	dir string
}

var _ Documents = (*File)(nil)

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "storage: create %s", dir)
	}
	return &File{dir: dir}, nil
}

func (s *File) path(name string) string { return filepath.Join(s.dir, name+".json") }

func (s *File) Load(_ context.Context, name string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(name, v)
}

func (s *File) Save(_ context.Context, name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(name, v)
}

func (s *File) Update(_ context.Context, name string, v any, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.read(name, v); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	save, err := runUpdate(fn)
	if !save {
		return err
	}
	return s.write(name, v)
}

func (s *File) read(name string, v any) error {
	raw, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "storage: read %s", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "storage: decode %s", name)
	}
	return nil
}

// write goes through a temp file and rename so a crash never leaves a
// half-written document behind.
func (s *File) write(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "storage: encode %s", name)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "storage: temp for %s", name)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "storage: write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "storage: close %s", name)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return errors.Wrapf(err, "storage: rename %s", name)
	}
	return nil
}

func (s *File) Close() error { return nil }
