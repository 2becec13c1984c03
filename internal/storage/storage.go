package storage

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("document not found in storage")

	// ErrUnchanged is returned by an Update callback to skip the save.
	ErrUnchanged = errors.New("document unchanged")
)

// Documents persists named JSON documents as a whole. Load-modify-save
// sequences go through Update, which serialises writers of the same
// document, including writers in other processes where the backend allows
// it.
type Documents interface {
	// Load decodes the named document into v, or returns ErrNotFound.
	Load(ctx context.Context, name string, v any) error
	Save(ctx context.Context, name string, v any) error
	// Update loads the document into v (left untouched when missing), calls
	// fn and saves v if fn returns nil. Any other error from fn aborts the
	// update and is returned; ErrUnchanged aborts it silently.
	Update(ctx context.Context, name string, v any, fn func() error) error
	Close() error
}

// LoadOrInit is Load, but leaves v untouched when the document is missing.
func LoadOrInit(ctx context.Context, docs Documents, name string, v any) error {
	err := docs.Load(ctx, name, v)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// runUpdate maps ErrUnchanged to "nothing to save".
func runUpdate(fn func() error) (save bool, err error) {
	err = fn()
	if errors.Is(err, ErrUnchanged) {
		return false, nil
	}
	return err == nil, err
}
