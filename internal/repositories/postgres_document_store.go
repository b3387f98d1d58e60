package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS collection_documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	);
`

const (
	selectDocumentSQL = `SELECT data FROM documents WHERE path = $1`
	upsertDocumentSQL = `
		INSERT INTO documents (path, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	lockDocumentSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

type PostgresDocumentStore struct {
	db  Pool
	now func() time.Time
}

func NewPostgresDocumentStore(db Pool) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db, now: time.Now}
}

// EnsureSchema creates the backing tables if they do not exist.
func (s *PostgresDocumentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create document tables: %w", err)
	}
	return nil
}

func (s *PostgresDocumentStore) GetDocument(ctx context.Context, path string) (map[string]any, error) {
	return getDocument(ctx, s.db, path)
}

func (s *PostgresDocumentStore) SetDocument(ctx context.Context, path string, doc map[string]any) error {
	return setDocument(ctx, s.db, path, doc)
}

func (s *PostgresDocumentStore) QueryCollection(ctx context.Context, collection string, filter *Filter) ([]CollectionDocument, error) {
	query := `
		SELECT id, data, created_at
		FROM collection_documents
		WHERE collection = $1
		ORDER BY created_at, id
	`
	args := []any{collection}
	if filter != nil {
		query = `
		SELECT id, data, created_at
		FROM collection_documents
		WHERE collection = $1 AND data ->> $2 = $3
		ORDER BY created_at, id
	`
		args = append(args, filter.Field, filter.Value)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []CollectionDocument
	for rows.Next() {
		var (
			id        string
			raw       []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection %s: %w", collection, err)
		}
		data, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, CollectionDocument{ID: id, Data: data, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}
	return docs, nil
}

func (s *PostgresDocumentStore) AddDocument(ctx context.Context, collection string, data map[string]any) (CollectionDocument, error) {
	id := uuid.NewString()
	createdAt := s.now().UTC()
	stamped := stampCreatedAt(data, createdAt)
	raw, err := encodeDocument(stamped)
	if err != nil {
		return CollectionDocument{}, err
	}

	query := `
		INSERT INTO collection_documents (collection, id, data, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, collection, id, raw, createdAt); err != nil {
		return CollectionDocument{}, fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	return CollectionDocument{ID: id, Data: stamped, CreatedAt: createdAt}, nil
}

func (s *PostgresDocumentStore) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	raw, err := encodeDocument(patch)
	if err != nil {
		return err
	}

	query := `
		UPDATE collection_documents
		SET data = data || $3::jsonb
		WHERE collection = $1 AND id = $2
	`
	tag, err := s.db.Exec(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresDocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	query := `DELETE FROM collection_documents WHERE collection = $1 AND id = $2`
	tag, err := s.db.Exec(ctx, query, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// RunAtomic runs fn inside a database transaction. Each Get takes a
// transaction-scoped advisory lock on the path, so two transactions
// checking the same document run one after the other.
func (s *PostgresDocumentStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Get(ctx context.Context, path string) (map[string]any, error) {
	if _, err := t.tx.Exec(ctx, lockDocumentSQL, path); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return getDocument(ctx, t.tx, path)
}

func (t *postgresTx) Set(ctx context.Context, path string, doc map[string]any) error {
	return setDocument(ctx, t.tx, path, doc)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q querier, path string) (map[string]any, error) {
	var raw []byte
	err := q.QueryRow(ctx, selectDocumentSQL, path).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return decodeDocument(raw)
}

func setDocument(ctx context.Context, q querier, path string, doc map[string]any) error {
	raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, upsertDocumentSQL, path, raw); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}
