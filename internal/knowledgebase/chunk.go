// Package knowledgebase implements C6 (ingestion) and C7 (retrieval-only
// Q&A) from spec.md §4.6/§4.7: a semantic chunker, a batch-embedding
// ingestor, a Postgres/pgvector-backed chunk store, and a synchronous
// embed+top-k+synthesize asker.
package knowledgebase

// Chunk is the KB Chunk from spec.md §3: `{chunk_id, tenant_id,
// source_doc, text, embedding, ordinal}`. A chunk's membership in the
// tenant's collection is its only access control — there is no
// per-chunk ACL.
type Chunk struct {
	ChunkID   string
	TenantID  string
	SourceDoc string
	Text      string
	Embedding []float32
	Ordinal   int
}
