package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/storefront/internal/storage"
)

var _ storage.Storage = (*Scope)(nil)

// Scope is the storage.Storage of one visitor.
type Scope struct {
	db    *DB
	scope string
}

// Scope returns the storage namespace named scope. Scopes are created
// lazily: nothing is written until the first Set or Apply.
func (db *DB) Scope(scope string) *Scope {
	return &Scope{db: db, scope: scope}
}

// Name returns the scope identifier.
func (s *Scope) Name() string { return s.scope }

func (s *Scope) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT value FROM client_storage WHERE scope = ? AND key = ?`,
		s.scope, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlite: reading %s/%s: %w", s.scope, key, err)
	}
	return value, true, nil
}

func (s *Scope) Set(ctx context.Context, key, value string) error {
	if err := upsert(ctx, s.db.conn, s.scope, key, value); err != nil {
		return fmt.Errorf("sqlite: writing %s/%s: %w", s.scope, key, err)
	}
	return nil
}

func (s *Scope) Remove(ctx context.Context, key string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM client_storage WHERE scope = ? AND key = ?`,
		s.scope, key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing %s/%s: %w", s.scope, key, err)
	}
	return nil
}

// Apply runs every change inside one transaction.
func (s *Scope) Apply(ctx context.Context, changes ...storage.Change) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction for %s: %w", s.scope, err)
	}
	defer tx.Rollback() // no-op after Commit

	for _, c := range changes {
		if c.Delete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM client_storage WHERE scope = ? AND key = ?`,
				s.scope, c.Key,
			); err != nil {
				return fmt.Errorf("sqlite: removing %s/%s: %w", s.scope, c.Key, err)
			}
			continue
		}
		if err := upsert(ctx, tx, s.scope, c.Key, c.Value); err != nil {
			return fmt.Errorf("sqlite: writing %s/%s: %w", s.scope, c.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing %s: %w", s.scope, err)
	}
	return nil
}

// Keys lists the keys currently stored in the scope, sorted.
func (s *Scope) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT key FROM client_storage WHERE scope = ? ORDER BY key`,
		s.scope,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing keys of %s: %w", s.scope, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: scanning key of %s: %w", s.scope, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, e execer, scope, key, value string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO client_storage (scope, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope, key, value, time.Now().UTC(),
	)
	return err
}
