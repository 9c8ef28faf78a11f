// Package knowledge stores and searches embedded documents in PostgreSQL
// with pgvector.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/ember0/ember/internal/log"
)

// DB is the subset of pgxpool.Pool the store needs.
// Defined by the consumer so tests can substitute pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	upsertDocumentSQL = `
INSERT INTO kb_documents (id, content, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

	searchAllSQL = `
SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS similarity
FROM kb_documents
ORDER BY embedding <=> $1
LIMIT $2`

	searchFilteredSQL = `
SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS similarity
FROM kb_documents
WHERE metadata @> $2
ORDER BY embedding <=> $1
LIMIT $3`

	countAllSQL      = `SELECT count(*) FROM kb_documents`
	countFilteredSQL = `SELECT count(*) FROM kb_documents WHERE metadata @> $1`
	deleteSQL        = `DELETE FROM kb_documents WHERE id = $1`
)

// Store manages knowledge documents with vector search.
// It generates embeddings on write and on query.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Store. A nil logger falls back to a nop logger.
func New(db DB, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}
}

// Add embeds the document content and upserts it, so re-ingesting the same
// document ID is idempotent.
func (s *Store) Add(ctx context.Context, doc Document) error {
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
	}

	createdAt := pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()}

	if _, err := s.db.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.Content, embedding, metadataJSON, createdAt); err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to the query, ordered by cosine
// similarity. A bounded timeout keeps slow vector scans from blocking the
// caller.
//
// Example:
//
//	results, err := store.Search(ctx, "how do bounces work",
//	    knowledge.WithTopK(10),
//	    knowledge.WithFilter("source_type", knowledge.SourceTypeDocs))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding query timed out: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var rows pgx.Rows
	if len(cfg.filter) > 0 {
		filterJSON, marshalErr := json.Marshal(cfg.filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		rows, err = s.db.Query(queryCtx, searchFilteredSQL, embedding, filterJSON, cfg.topK)
	} else {
		rows, err = s.db.Query(queryCtx, searchAllSQL, embedding, cfg.topK)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timed out: %w", err)
		}
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
			createdAt    pgtype.Timestamptz
			similarity   float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "document_id", doc.ID, "error", err)
			doc.Metadata = make(map[string]string)
		}
		if createdAt.Valid {
			doc.CreatedAt = createdAt.Time
		}
		results = append(results, Result{Document: doc, Similarity: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	return results, nil
}

// Count returns the number of documents matching the filter; a nil or empty
// filter counts everything.
func (s *Store) Count(ctx context.Context, filter map[string]string) (int64, error) {
	var (
		count int64
		err   error
	)
	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return 0, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		err = s.db.QueryRow(ctx, countFilteredSQL, filterJSON).Scan(&count)
	} else {
		err = s.db.QueryRow(ctx, countAllSQL).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Delete removes a document by ID.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.Exec(ctx, deleteSQL, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// embed generates one embedding vector for the given text, truncated to
// Dimension. gemini-embedding-001 emits Matryoshka embeddings, so leading
// dimensions stay meaningful after truncation.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned an empty embedding")
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) > Dimension {
		vec = vec[:Dimension]
	}
	return pgvector.NewVector(vec), nil
}
