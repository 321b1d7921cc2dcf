package knowledgebase

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// Store is the Postgres/pgvector-backed collection of KB chunks, one
// logical collection per tenant (scoped by a WHERE tenant_id clause,
// per spec.md §3's "membership in the tenant's collection is the sole
// access control").
//
// Grounded on internal/store/store.go's run_embeddings/plan_step_embeddings
// tables: vector columns encoded as `[f1,f2,...]` literals cast to
// `::vector`, nearest-neighbour search via the `<=>` cosine-distance
// operator, ON CONFLICT upserts.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertChunks replaces a source document's chunks transactionally,
// mirroring internal/store/store.go's ReplacePlanStepEmbeddings
// delete-then-insert-under-one-tx shape (a re-ingested document should
// not leave stale chunks from a previous ingestion behind).
func (s *Store) UpsertChunks(ctx context.Context, tenantID, sourceDoc string, chunks []Chunk) error {
	if tenantID == "" || sourceDoc == "" {
		return fmt.Errorf("tenant_id and source_doc required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_chunks WHERE tenant_id=$1 AND source_doc=$2`, tenantID, sourceDoc); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	if len(chunks) == 0 {
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO kb_chunks (chunk_id, tenant_id, source_doc, text, embedding, ordinal)
VALUES ($1,$2,$3,$4,$5::vector,$6)
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		vecLiteral, err := encodeVectorLiteral(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("encode chunk %s embedding: %w", chunk.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ChunkID, chunk.TenantID, chunk.SourceDoc, chunk.Text, vecLiteral, chunk.Ordinal); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SearchResult is one nearest-neighbour hit, ordered by ascending
// cosine distance (closer is more relevant).
type SearchResult struct {
	Chunk    Chunk
	Distance float64
}

// Search returns the topK nearest chunks in tenantID's collection to
// vector, per spec.md §4.7's "top-k=4 nearest neighbours in the tenant
// collection".
func (s *Store) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 4
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, tenant_id, source_doc, text, ordinal, embedding <=> $1::vector AS distance
FROM kb_chunks
WHERE tenant_id = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.Chunk.ChunkID, &res.Chunk.TenantID, &res.Chunk.SourceDoc, &res.Chunk.Text, &res.Chunk.Ordinal, &res.Distance); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// HasAny reports whether tenantID's collection contains at least one
// chunk, used by the asker's NoContextAvailable failure mode.
func (s *Store) HasAny(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM kb_chunks WHERE tenant_id=$1)`, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	return exists, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}
