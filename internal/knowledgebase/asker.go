package knowledgebase

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
)

const askerTopK = 4

const askerSystemPrompt = `Answer the user's question using only the provided context chunks. If
the context does not contain the answer, say so plainly. Do not use
any tools.`

// AskResult is C7's response shape: {answer, context[]}.
type AskResult struct {
	Answer  string   `json:"answer"`
	Context []string `json:"context"`
}

// Asker implements C7, spec.md §4.7: synchronous embed + top-k + LLM
// synthesis, bypassing the saga pipeline entirely. Shares the LLM
// provider with C2/C6 but never touches C3 or the bus.
type Asker struct {
	store    *Store
	provider llm.Provider
	topK     int
}

func NewAsker(store *Store, provider llm.Provider, topK int) *Asker {
	if topK <= 0 {
		topK = askerTopK
	}
	return &Asker{store: store, provider: provider, topK: topK}
}

// Ask embeds question, retrieves the topK nearest chunks in tenantID's
// collection, and synthesizes an answer. Returns ErrNoContextAvailable
// if the collection is empty, per spec.md §4.7.
func (a *Asker) Ask(ctx context.Context, tenantID, question string) (AskResult, error) {
	hasAny, err := a.store.HasAny(ctx, tenantID)
	if err != nil {
		return AskResult{}, err
	}
	if !hasAny {
		return AskResult{}, sagaerr.NewStageError("retrieval_qa", sagaerr.ErrNoContextAvailable, "tenant knowledge base is empty")
	}

	vectors, err := a.provider.Embed(ctx, []string{question})
	if err != nil {
		return AskResult{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return AskResult{}, fmt.Errorf("embed question: provider returned no vectors")
	}

	hits, err := a.store.Search(ctx, tenantID, vectors[0], a.topK)
	if err != nil {
		return AskResult{}, fmt.Errorf("search chunks: %w", err)
	}
	if len(hits) == 0 {
		return AskResult{}, sagaerr.NewStageError("retrieval_qa", sagaerr.ErrNoContextAvailable, "no chunks matched the query")
	}

	context := make([]string, len(hits))
	for i, hit := range hits {
		context[i] = hit.Chunk.Text
	}

	userMsg := fmt.Sprintf("Question: %s\n\nContext:\n%s", question, strings.Join(context, "\n---\n"))
	completion, err := a.provider.Generate(ctx, []llm.Message{
		{Role: "system", Content: askerSystemPrompt},
		{Role: "user", Content: userMsg},
	})
	if err != nil {
		return AskResult{}, fmt.Errorf("synthesize answer: %w", err)
	}

	return AskResult{Answer: completion.Text, Context: context}, nil
}
