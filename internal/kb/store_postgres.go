package kb

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// PostgresStore keeps chunks in the kb_chunks table with case-insensitive
// substring retrieval. Retrieval quality is intentionally simple; swapping in
// full-text or vector search stays behind the Store interface.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Read(ctx context.Context, tenantID, tag, query string) ([]Chunk, error) {
	if tag == "" || query == "" {
		return nil, ErrInvalidQuery
	}
	const q = `
SELECT id, tag, text
FROM kb_chunks
WHERE tenant_id = $1 AND tag = $2 AND text ILIKE '%' || $3 || '%'
ORDER BY created_at
LIMIT 20`

	rows, err := s.db.QueryContext(ctx, q, tenantID, tag, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Tag, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Write(ctx context.Context, tenantID, tag string, chunks []Chunk) error {
	if tag == "" {
		return ErrInvalidQuery
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
INSERT INTO kb_chunks (id, tenant_id, tag, text, created_at)
VALUES ($1, $2, $3, $4, now())`

	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, q, id, tenantID, tag, c.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}
