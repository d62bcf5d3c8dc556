// Package postgres persists collaborations, their audit trail, outbox and
// contracts in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"collabflow/collaboration"
	"collabflow/contract"
	"collabflow/escrow"
	"collabflow/migrations"
	"collabflow/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts pgxpool.Pool for testability.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

var (
	_ collaboration.Store = (*Store)(nil)
	_ outbox.Store        = (*Store)(nil)
	_ contract.Repository = (*Store)(nil)
	_ escrow.HoldStore    = (*Store)(nil)
)

func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema. Every file is idempotent.
func Migrate(ctx context.Context, db DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := fs.ReadFile(migrations.FS, e.Name())
		if err != nil {
			return fmt.Errorf("postgres: read %s: %w", e.Name(), err)
		}
		if _, err := db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("postgres: apply %s: %w", e.Name(), err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
