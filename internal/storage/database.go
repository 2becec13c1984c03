package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

// Postgres keeps documents as JSONB rows keyed by name.
type Postgres struct {
	DB *sql.DB
}

var _ Documents = (*Postgres)(nil)

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{DB: db}, nil
}

func (s *Postgres) Close() error { return s.DB.Close() }

func (s *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			name TEXT PRIMARY KEY,
			body JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, st := range stmts {
		if _, err := s.DB.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) Load(ctx context.Context, name string, v any) error {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM documents WHERE name=$1`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "storage: select %s", name)
	}
	return decodeBody(name, raw, v)
}

// decodeBody treats a JSON null body as missing. Update leaves one behind
// only inside its own transaction, but a reader must never decode it.
func decodeBody(name string, raw []byte, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "storage: decode %s", name)
	}
	return nil
}

func (s *Postgres) Save(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "storage: encode %s", name)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO documents (name, body, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (name) DO UPDATE SET body=EXCLUDED.body, updated_at=NOW()`,
		name, string(raw),
	)
	return errors.Wrapf(err, "storage: upsert %s", name)
}

// Update holds a row lock on the document for the whole load-modify-save,
// so writers in other processes wait for it. A missing document is
// inserted as null first so there is a row to lock.
func (s *Postgres) Update(ctx context.Context, name string, v any, fn func() error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "storage: begin %s", name)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO documents (name, body, updated_at)
	VALUES ($1, 'null', NOW())
	ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return errors.Wrapf(err, "storage: reserve %s", name)
	}
	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE name=$1 FOR UPDATE`, name).Scan(&raw); err != nil {
		return errors.Wrapf(err, "storage: lock %s", name)
	}
	if err := decodeBody(name, raw, v); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	save, err := runUpdate(fn)
	if !save {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "storage: encode %s", name)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET body=$2, updated_at=NOW() WHERE name=$1`,
		name, string(body)); err != nil {
		return errors.Wrapf(err, "storage: update %s", name)
	}
	return errors.Wrapf(tx.Commit(), "storage: commit %s", name)
}

func WaitForDB(ctx context.Context, db *sql.DB) error {
	deadline := time.Now().Add(2 * time.Minute)
	for {
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not ready after timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
