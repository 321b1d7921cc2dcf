package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/toolloop"
)

// maxFormattedResponseLen bounds the executive summary stage 3 produces,
// per spec.md §4.4.
const maxFormattedResponseLen = 2000

// FormatWorker runs stage 3 of C4, spec.md §4.4: a tool-free LLM call
// that turns the rendered result table into a short executive summary
// and writes the completed terminal status.
type FormatWorker struct {
	deps *Deps
}

func NewFormatWorker(deps *Deps) *FormatWorker {
	return &FormatWorker{deps: deps}
}

func (w *FormatWorker) Start(ctx context.Context, consumer *streams.Consumer) error {
	return runLoop(ctx, w.deps.Logger, w.deps.Store, consumer, streams.StreamQueryExecuted, "query.executed", w.handle)
}

func (w *FormatWorker) handle(ctx context.Context, payload StagePayload) error {
	record, err := w.deps.Store.Get(ctx, payload.SagaID)
	if errors.Is(err, sagastore.ErrNotFound) {
		w.deps.Logger.Printf("drop stage3 message for unknown saga %s", payload.SagaID)
		return nil
	}
	if err != nil {
		return err
	}
	if record.IsTerminal() {
		return nil
	}
	if record.RawResults == nil || record.GeneratedSQL == nil {
		return fmt.Errorf("saga %s reached stage 3 without raw_results/generated_sql", payload.SagaID)
	}

	formatting := saga.StatusFormatting
	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{Status: &formatting}); err != nil {
		return fmt.Errorf("mark formatting: %w", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, w.deps.Saga.StageWallClockTimeout)
	defer cancel()

	userMsg := stage3UserMessage(record.Question, *record.GeneratedSQL, *record.RawResults)
	result, err := toolloop.Run(stageCtx, w.deps.Provider, stage3SystemPrompt, userMsg, toolloop.Catalogue{Tools: []llm.Tool{}}, toolloop.Config{
		MaxIterations: 1,
		CallTimeout:   w.deps.Saga.LLMCallTimeout,
		LoopTimeout:   w.deps.Saga.StageWallClockTimeout,
	})
	if err != nil {
		var stageErr *sagaerr.StageError
		if errors.As(err, &stageErr) && !sagaerr.Retryable(stageErr) {
			return writeTerminalFailure(ctx, w.deps, payload, stageErr, false)
		}
		return err
	}

	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{AppendSteps: result.Steps}); err != nil {
		return fmt.Errorf("append stage3 steps: %w", err)
	}

	summary := result.FinalText
	if len(summary) > maxFormattedResponseLen {
		summary = summary[:maxFormattedResponseLen]
	}

	return writeTerminalCompletion(ctx, w.deps, payload, summary)
}
