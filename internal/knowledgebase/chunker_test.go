package knowledgebase

import (
	"context"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
)

// topicEmbedProvider assigns each sentence a one-hot embedding keyed by
// whether it contains needle, so within-topic sentences cosine-similarity
// to 1 and across-topic sentences cosine-similarity to 0 — enough to
// drive the running-centroid topic-shift decision deterministically
// without a real embedding model.
type topicEmbedProvider struct {
	needle string
}

func (p topicEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), p.needle) {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func (p topicEmbedProvider) Generate(ctx context.Context, messages []llm.Message) (llm.CompletionResult, error) {
	return llm.CompletionResult{}, nil
}

func (p topicEmbedProvider) GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.CompletionResult, error) {
	return llm.CompletionResult{}, nil
}

func TestChunkerSplitsAtTopicShift(t *testing.T) {
	sentences := []string{
		"Invoice 100 was issued to the customer. ",
		"The invoice total was 250 dollars. ",
		"Invoices are due within 30 days. ",
		"An overdue invoice accrues interest. ",
		"The invoice was paid in full. ",
		"The weather today is sunny. ",
		"Tomorrow's weather forecast calls for rain. ",
		"Weather conditions affect outdoor events. ",
		"Severe weather warnings were issued. ",
		"The weather cooled significantly this week.",
	}
	text := strings.Join(sentences, "")

	chunker := NewChunker(topicEmbedProvider{needle: "invoice"}, ChunkerConfig{MaxChunkSize: 10000, SimilarityThreshold: 0.5})
	chunks, err := chunker.Chunk(context.Background(), text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if !strings.Contains(strings.ToLower(chunks[0]), "invoice") {
		t.Errorf("first chunk should be about invoices, got %q", chunks[0])
	}
	if !strings.Contains(strings.ToLower(chunks[1]), "weather") {
		t.Errorf("second chunk should be about weather, got %q", chunks[1])
	}

	var rejoined []string
	for _, c := range chunks {
		rejoined = append(rejoined, splitSentences(c)...)
	}
	if len(rejoined) != len(sentences) {
		t.Fatalf("sentence order/coverage not preserved: got %d sentences, want %d", len(rejoined), len(sentences))
	}
}

func TestChunkerEmptyInputProducesNoChunks(t *testing.T) {
	chunker := NewChunker(topicEmbedProvider{needle: "x"}, ChunkerConfig{})
	chunks, err := chunker.Chunk(context.Background(), "")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty input, got %v", chunks)
	}
}

func TestChunkerSingleSentenceProducesOneChunk(t *testing.T) {
	chunker := NewChunker(topicEmbedProvider{needle: "x"}, ChunkerConfig{})
	chunks, err := chunker.Chunk(context.Background(), "Just one sentence here.")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %v", len(chunks), chunks)
	}
}

func TestChunkerSplitsOnMaxChunkSize(t *testing.T) {
	// All sentences share a topic (similarity stays high), so only the
	// size bound should force a split.
	chunker := NewChunker(topicEmbedProvider{needle: "x"}, ChunkerConfig{MaxChunkSize: 20, SimilarityThreshold: 0.1})
	chunks, err := chunker.Chunk(context.Background(), "Short one. Short two. Short three. Short four.")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected max_chunk_size to force at least 2 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestCosineSimilarityZeroNormForcesSplit(t *testing.T) {
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero-norm vector should yield similarity 0, got %v", got)
	}
}
