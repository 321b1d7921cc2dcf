package knowledgebase

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
)

// Ingestor runs C6's pipeline: extract text, chunk, batch-embed, upsert,
// per spec.md §4.6. Text extraction by file extension happens in the
// caller (the ingestion consumer in cmd/kbworker); this type owns
// chunking through storage.
//
// Grounded on internal/memory/semantic/ingestor.go's batch-embed-in-
// fixed-size-windows loop (`for start := 0; start < len(inputs); start
// += batchSize`), generalized from embedding fixed run/plan-step text
// to embedding the chunker's variable-length chunk outputs.
type Ingestor struct {
	chunker   *Chunker
	store     *Store
	provider  llm.Provider
	batchSize int
	logger    *log.Logger
}

func NewIngestor(chunker *Chunker, store *Store, provider llm.Provider, batchSize int, logger *log.Logger) *Ingestor {
	if batchSize <= 0 {
		batchSize = 32
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[KB] ", log.LstdFlags)
	}
	return &Ingestor{chunker: chunker, store: store, provider: provider, batchSize: batchSize, logger: logger}
}

// Ingest chunks text, embeds each chunk (batched per spec.md §4.6 step
// 2's "avoid N+1" guidance, this time over chunk texts rather than
// sentences), and upserts the result with metadata {filename, ordinal}.
func (ing *Ingestor) Ingest(ctx context.Context, tenantID, filename, text string) (int, error) {
	if tenantID == "" || filename == "" {
		return 0, fmt.Errorf("tenant_id and filename required")
	}

	chunkTexts, err := ing.chunker.Chunk(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunkTexts) == 0 {
		if err := ing.store.UpsertChunks(ctx, tenantID, filename, nil); err != nil {
			return 0, fmt.Errorf("clear chunks for empty document: %w", err)
		}
		return 0, nil
	}

	vectors := make([][]float32, 0, len(chunkTexts))
	for start := 0; start < len(chunkTexts); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(chunkTexts) {
			end = len(chunkTexts)
		}
		batch := chunkTexts[start:end]
		resp, err := ing.provider.Embed(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("embed chunks: %w", err)
		}
		if len(resp) != len(batch) {
			return 0, fmt.Errorf("embed chunks: expected %d vectors, got %d", len(batch), len(resp))
		}
		vectors = append(vectors, resp...)
	}

	chunks := make([]Chunk, len(chunkTexts))
	for i, text := range chunkTexts {
		chunks[i] = Chunk{
			ChunkID:   uuid.NewString(),
			TenantID:  tenantID,
			SourceDoc: filename,
			Text:      text,
			Embedding: vectors[i],
			Ordinal:   i,
		}
	}

	if err := ing.store.UpsertChunks(ctx, tenantID, filename, chunks); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}
	ing.logger.Printf("ingested %d chunks for tenant=%s doc=%s", len(chunks), tenantID, filename)
	return len(chunks), nil
}
