package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DocumentRepo stores one named document as rows of auth_document.
// Every write commits immediately, so Save has nothing to flush.
type DocumentRepo struct {
	db  *DB
	doc string
}

// NewDocumentRepo constructs a document repository for the document named doc.
func NewDocumentRepo(db *DB, doc string) *DocumentRepo { return &DocumentRepo{db: db, doc: doc} }

// Get selects a single key.
func (r *DocumentRepo) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM auth_document WHERE doc=$1 AND key=$2`
	var v string
	err := r.db.Pool.QueryRow(ctx, q, r.doc, key).Scan(&v)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
}

// Set upserts a key.
func (r *DocumentRepo) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO auth_document (doc, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (doc, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := r.db.Pool.Exec(ctx, q, r.doc, key, value); err != nil {
		return fmt.Errorf("postgres: set %q: %w", key, err)
	}
	return nil
}

// CreateIfAbsent inserts a key and leaves an existing row untouched.
func (r *DocumentRepo) CreateIfAbsent(ctx context.Context, key, value string) (bool, error) {
	const q = `
INSERT INTO auth_document (doc, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (doc, key) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q, r.doc, key, value)
	if err != nil {
		return false, fmt.Errorf("postgres: create %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a key if present.
func (r *DocumentRepo) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM auth_document WHERE doc=$1 AND key=$2`
	if _, err := r.db.Pool.Exec(ctx, q, r.doc, key); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix. LIKE is avoided because '_' is a wildcard there.
func (r *DocumentRepo) Keys(ctx context.Context, prefix string) ([]string, error) {
	const q = `SELECT key FROM auth_document WHERE doc=$1 AND left(key, length($2)) = $2 ORDER BY key`
	rows, err := r.db.Pool.Query(ctx, q, r.doc, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres: keys: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: scan key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: keys: %w", err)
	}
	return out, nil
}

// Save is a no-op: rows are durable once Exec returns.
func (r *DocumentRepo) Save(context.Context) error { return nil }

// Close closes the pool.
func (r *DocumentRepo) Close() error {
	r.db.Close()
	return nil
}
