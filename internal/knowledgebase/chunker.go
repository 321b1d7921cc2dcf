package knowledgebase

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
)

// ChunkerConfig bounds one chunking run, per spec.md §4.6.
type ChunkerConfig struct {
	MaxChunkSize        int
	SimilarityThreshold float64
}

// Chunker implements the running-centroid semantic chunker from spec.md
// §4.6. Unlike the ingestor's batch-embed loop (grounded on
// internal/memory/semantic/ingestor.go), the chunking algorithm itself
// has no teacher analog — the teacher's own `tools/web_ingest` uses a
// fixed-window split, not a topic-shift detector — so this is written
// directly from the spec.
type Chunker struct {
	provider llm.Provider
	cfg      ChunkerConfig
}

// NewChunker constructs a Chunker, applying the spec's defaults
// (max_chunk_size=1000, similarity_threshold=0.5) when unset.
func NewChunker(provider llm.Provider, cfg ChunkerConfig) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1000
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.5
	}
	return &Chunker{provider: provider, cfg: cfg}
}

var sentenceSplit = regexp.MustCompile(`[.?!]\s+`)

// splitSentences implements step 1: split on a terminator followed by
// whitespace, keeping the terminator with its sentence and dropping
// empties.
func splitSentences(text string) []string {
	sentences := make([]string, 0)
	start := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

type pendingChunk struct {
	sentences []string
	centroid  []float32
	count     int
	charTotal int
}

func (p *pendingChunk) text() string {
	return strings.Join(p.sentences, " ")
}

// Chunk runs the full pipeline: split, batch-embed, then running-
// centroid grouping, returning chunk text (not yet persisted — the
// ingestor re-embeds the joined chunk text for storage, since the
// per-sentence vectors used for the topic-shift decision are not the
// chunk's own representative embedding).
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	vectors, err := c.provider.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("embed sentences: expected %d vectors, got %d", len(sentences), len(vectors))
	}

	var chunks []string
	current := &pendingChunk{
		sentences: []string{sentences[0]},
		centroid:  vectors[0],
		count:     1,
		charTotal: len(sentences[0]),
	}

	for i := 1; i < len(sentences); i++ {
		sentence := sentences[i]
		embedding := vectors[i]

		if current.charTotal+len(sentence)+1 > c.cfg.MaxChunkSize {
			chunks = append(chunks, current.text())
			current = &pendingChunk{sentences: []string{sentence}, centroid: embedding, count: 1, charTotal: len(sentence)}
			continue
		}

		if cosineSimilarity(embedding, current.centroid) < c.cfg.SimilarityThreshold {
			chunks = append(chunks, current.text())
			current = &pendingChunk{sentences: []string{sentence}, centroid: embedding, count: 1, charTotal: len(sentence)}
			continue
		}

		current.sentences = append(current.sentences, sentence)
		current.centroid = runningMean(current.centroid, current.count, embedding)
		current.count++
		current.charTotal += len(sentence) + 1
	}
	chunks = append(chunks, current.text())

	return chunks, nil
}

// runningMean computes centroid' = (centroid*count + e) / (count+1).
func runningMean(centroid []float32, count int, e []float32) []float32 {
	out := make([]float32, len(centroid))
	for i := range centroid {
		out[i] = (centroid[i]*float32(count) + e[i]) / float32(count+1)
	}
	return out
}

// cosineSimilarity treats a zero-norm vector as similarity 0, forcing a
// split per spec.md §4.6's degenerate-case rule.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
