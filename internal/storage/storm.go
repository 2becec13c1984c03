package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	documentsBucket = "documents"

	// stormOpenTimeout bounds the wait for bolt's file lock, which another
	// process holding the same file keeps for as long as it runs.
	stormOpenTimeout = 5 * time.Second
)

// Storm keeps documents in a single bolt bucket keyed by name, encoded with
// storm's default JSON codec.
type Storm struct {
	sdb *storm.DB
}

var _ Documents = (*Storm)(nil)

func OpenStorm(path string) (*Storm, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "storage: create dir for %s", path)
	}
	sdb, err := storm.Open(path, storm.BoltOptions(0o600, &bolt.Options{Timeout: stormOpenTimeout}))
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s (is another process using it?)", path)
	}
	return &Storm{sdb: sdb}, nil
}

func (s *Storm) Load(_ context.Context, name string, v any) error {
	err := s.sdb.Get(documentsBucket, name, v)
	if errors.Is(err, storm.ErrNotFound) {
		return ErrNotFound
	}
	return errors.Wrapf(err, "storage: get %s", name)
}

func (s *Storm) Save(_ context.Context, name string, v any) error {
	return errors.Wrapf(s.sdb.Set(documentsBucket, name, v), "storage: set %s", name)
}

// Update runs inside one writable bolt transaction. Bolt allows a single
// writer at a time.
func (s *Storm) Update(_ context.Context, name string, v any, fn func() error) error {
	tx, err := s.sdb.Begin(true)
	if err != nil {
		return errors.Wrapf(err, "storage: begin %s", name)
	}
	defer tx.Rollback()

	if err := tx.Get(documentsBucket, name, v); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return errors.Wrapf(err, "storage: get %s", name)
	}
	save, err := runUpdate(fn)
	if !save {
		return err
	}
	if err := tx.Set(documentsBucket, name, v); err != nil {
		return errors.Wrapf(err, "storage: set %s", name)
	}
	return errors.Wrapf(tx.Commit(), "storage: commit %s", name)
}

func (s *Storm) Close() error { return s.sdb.Close() }
