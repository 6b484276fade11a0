package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxQuerier implements Querier on a pgx connection pool.
// Vector operands travel as pgvector.Vector values; the pgvector extension
// must be installed (the migrations take care of that).
type PgxQuerier struct {
	pool *pgxpool.Pool
}

// NewPgxQuerier creates a PgxQuerier over the given pool.
func NewPgxQuerier(pool *pgxpool.Pool) *PgxQuerier {
	return &PgxQuerier{pool: pool}
}

var _ Querier = (*PgxQuerier)(nil)

const getDocumentSQL = `
SELECT key, title, description, context, created_at
FROM documents
WHERE key = $1`

// GetDocument fetches one document record by key.
func (q *PgxQuerier) GetDocument(ctx context.Context, key string) (DocumentRow, error) {
	var row DocumentRow
	err := q.pool.QueryRow(ctx, getDocumentSQL, key).Scan(
		&row.Key, &row.Title, &row.Description, &row.Context, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentRow{}, ErrNoRows
		}
		return DocumentRow{}, fmt.Errorf("querying document: %w", err)
	}
	return row, nil
}

const searchPassagesSQL = `
SELECT content, source, title, 1 - (embedding <=> $1) AS score
FROM passages
WHERE document_key = $2
ORDER BY embedding <=> $1
LIMIT $3`

// SearchPassages performs a cosine-distance vector search scoped to one
// document, most similar first.
func (q *PgxQuerier) SearchPassages(ctx context.Context, arg SearchPassagesParams) ([]PassageRow, error) {
	rows, err := q.pool.Query(ctx, searchPassagesSQL,
		arg.QueryEmbedding, arg.DocumentKey, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	var out []PassageRow
	for rows.Next() {
		var row PassageRow
		if err := rows.Scan(&row.Content, &row.Source, &row.Title, &row.Score); err != nil {
			return nil, fmt.Errorf("scanning passage row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passage rows: %w", err)
	}
	return out, nil
}

const upsertDocumentSQL = `
INSERT INTO documents (key, title, description, context)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	context = EXCLUDED.context`

// UpsertDocument inserts or updates a document record.
func (q *PgxQuerier) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	_, err := q.pool.Exec(ctx, upsertDocumentSQL,
		arg.Key, arg.Title, arg.Description, arg.Context)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}
	return nil
}

const insertPassageSQL = `
INSERT INTO passages (document_key, content, source, title, embedding)
VALUES ($1, $2, $3, $4, $5)`

// InsertPassage indexes one passage under a document.
func (q *PgxQuerier) InsertPassage(ctx context.Context, arg InsertPassageParams) error {
	_, err := q.pool.Exec(ctx, insertPassageSQL,
		arg.DocumentKey, arg.Content, arg.Source, arg.Title, arg.Embedding)
	if err != nil {
		return fmt.Errorf("inserting passage: %w", err)
	}
	return nil
}

// DeleteDocument removes a document; passages follow via ON DELETE CASCADE.
func (q *PgxQuerier) DeleteDocument(ctx context.Context, key string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM documents WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// CountPassages counts indexed passages for a document.
func (q *PgxQuerier) CountPassages(ctx context.Context, documentKey string) (int64, error) {
	var count int64
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM passages WHERE document_key = $1`, documentKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return count, nil
}
