// Package index stores embedded documents in PostgreSQL + pgvector and
// serves nearest-neighbor queries over them.
//
// Namespaces partition the table: knowledge chunks live in one
// namespace, per-user memories in others. The store never mutates a
// row's content in place except through Upsert on the same id, so
// concurrent readers only ever observe complete records.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// VectorDim is the embedding dimension the documents table is declared
// with. Vectors of any other length are rejected before reaching the
// database.
const VectorDim = 768

// DefaultQueryTimeout bounds a single vector search.
const DefaultQueryTimeout = 10 * time.Second

// ErrDimensionMismatch indicates an embedding of the wrong length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// querier is the common interface satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is a document to be stored: an id, its embedding, and
// metadata travelling together.
type Record struct {
	ID        string
	Namespace string
	Content   string
	Vector    []float32
	Metadata  map[string]any
	CreatedAt time.Time
}

// Query configures a nearest-neighbor search.
type Query struct {
	Namespace      string
	TopK           int
	Filter         map[string]any // JSONB containment over metadata; nil = no filter
	IncludeVectors bool
}

// Match is one search result, ranked by cosine similarity to the query
// vector. Vector is populated only when Query.IncludeVectors was set.
type Match struct {
	ID        string
	Score     float64
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	Vector    []float32
}

// Store manages embedded documents in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a Store over the given connection pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: pool, logger: logger}, nil
}

// Upsert inserts the record, replacing content, embedding, and metadata
// when the id already exists.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if rec.Namespace == "" {
		return fmt.Errorf("record namespace is required")
	}
	if len(rec.Vector) != VectorDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), VectorDim)
	}

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (id, namespace, content, embedding, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   namespace = EXCLUDED.namespace,
		   content = EXCLUDED.content,
		   embedding = EXCLUDED.embedding,
		   metadata = EXCLUDED.metadata`,
		rec.ID, rec.Namespace, rec.Content, pgvector.NewVector(rec.Vector), metadataJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", rec.ID, err)
	}

	s.logger.Debug("upserted document", "id", rec.ID, "namespace", rec.Namespace)
	return nil
}

// Search returns the q.TopK documents nearest to vec within the
// namespace, highest similarity first. A metadata filter restricts the
// candidate set via JSONB containment before ranking.
func (s *Store) Search(ctx context.Context, vec []float32, q Query) ([]Match, error) {
	if len(vec) != VectorDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), VectorDim)
	}
	if q.Namespace == "" {
		return nil, fmt.Errorf("query namespace is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	queryCtx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	sql, args, err := buildSearchSQL(vec, q, topK)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(queryCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	return s.scanMatches(rows, q.IncludeVectors)
}

// buildSearchSQL assembles the ranked search statement. The filter is
// always passed as a marshaled JSONB parameter, never interpolated.
func buildSearchSQL(vec []float32, q Query, topK int) (string, []any, error) {
	cols := `id, content, metadata, created_at, 1 - (embedding <=> $2) AS similarity`
	if q.IncludeVectors {
		cols += `, embedding`
	}

	sql := `SELECT ` + cols + ` FROM documents WHERE namespace = $1`
	args := []any{q.Namespace, pgvector.NewVector(vec)}

	if len(q.Filter) > 0 {
		filterJSON, err := json.Marshal(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling filter: %w", err)
		}
		args = append(args, filterJSON)
		sql += fmt.Sprintf(` AND metadata @> $%d`, len(args))
	}

	args = append(args, topK)
	sql += fmt.Sprintf(` ORDER BY embedding <=> $2 LIMIT $%d`, len(args))

	return sql, args, nil
}

// scanMatches converts result rows into Matches.
func (s *Store) scanMatches(rows pgx.Rows, includeVectors bool) ([]Match, error) {
	var matches []Match
	for rows.Next() {
		var (
			m            Match
			metadataJSON []byte
			embedding    pgvector.Vector
		)

		dest := []any{&m.ID, &m.Content, &metadataJSON, &m.CreatedAt, &m.Score}
		if includeVectors {
			dest = append(dest, &embedding)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				s.logger.Warn("failed to parse document metadata", "id", m.ID, "error", err)
				m.Metadata = map[string]any{}
			}
		}
		if includeVectors {
			m.Vector = embedding.Slice()
		}

		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}
	return matches, nil
}

// Delete removes a document by id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	s.logger.Debug("deleted document", "id", id)
	return nil
}

// Count returns the number of documents in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM documents WHERE namespace = $1`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}
