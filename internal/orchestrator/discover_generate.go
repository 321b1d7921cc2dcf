package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sqlsafety"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/toolloop"
)

// DiscoverGenerateWorker runs stage 1 of C4, spec.md §4.4: discovers
// schema and business context through C2's tool loop and produces a
// single read-only SQL statement, or short-circuits irrelevant questions.
type DiscoverGenerateWorker struct {
	deps *Deps
}

func NewDiscoverGenerateWorker(deps *Deps) *DiscoverGenerateWorker {
	return &DiscoverGenerateWorker{deps: deps}
}

// Start consumes q.initiated (first entry). Self-correction re-entries on
// q.generated are consumed by StartRetries.
func (w *DiscoverGenerateWorker) Start(ctx context.Context, consumer *streams.Consumer) error {
	return runLoop(ctx, w.deps.Logger, w.deps.Store, consumer, streams.StreamQueryInitiated, "query.initiated", w.handle)
}

// StartRetries consumes the same q.generated stream the execute worker
// publishes self-correction re-entries to, distinguishing them by
// stage_hint so a single stream can carry both forward and retry
// messages without a fifth topic.
func (w *DiscoverGenerateWorker) StartRetries(ctx context.Context, consumer *streams.Consumer) error {
	return runLoop(ctx, w.deps.Logger, w.deps.Store, consumer, streams.StreamQueryGenerated, "query.generated.retry", func(ctx context.Context, payload StagePayload) error {
		if payload.StageHint != stageHintRetry {
			return nil // forward-path message for the execute worker, not us
		}
		return w.handle(ctx, payload)
	})
}

func (w *DiscoverGenerateWorker) handle(ctx context.Context, payload StagePayload) error {
	record, err := w.deps.Store.Get(ctx, payload.SagaID)
	if errors.Is(err, sagastore.ErrNotFound) {
		w.deps.Logger.Printf("drop stage1 message for unknown saga %s", payload.SagaID)
		return nil
	}
	if err != nil {
		return err
	}
	if record.IsTerminal() {
		return nil // spec.md §4.4 step 2: already terminal, ack and drop
	}

	generating := saga.StatusGenerating
	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{Status: &generating}); err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, w.deps.Saga.StageWallClockTimeout)
	defer cancel()

	dispatcher := newToolDispatcher(w.deps.Registry, payload.TenantID, w.deps.Saga.ToolCallTimeout)
	cat := toolloop.Catalogue{Tools: stage1Tools(), Dispatch: dispatcher.dispatch}
	userMsg := stage1UserMessage(record.Question, payload.Reflection)

	result, err := toolloop.Run(stageCtx, w.deps.Provider, stage1SystemPrompt, userMsg, cat, toolloop.Config{
		MaxIterations: w.deps.Saga.MaxToolLoopIterations,
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
		return fmt.Errorf("append stage1 steps: %w", err)
	}

	if irrelevant, reason := relevanceVerdict(result.Steps); irrelevant {
		stageErr := sagaerr.NewStageError("discover_generate", sagaerr.ErrIrrelevant, reason)
		if _, err := w.deps.Store.Fail(ctx, payload.SagaID, stageErr, true); err != nil {
			return fmt.Errorf("write irrelevant terminal: %w", err)
		}
		terminal := map[string]interface{}{
			"saga_id":             payload.SagaID,
			"tenant_id":           payload.TenantID,
			"status":              "error",
			"formatted_response": reason,
			"is_irrelevant":       true,
		}
		if _, err := w.deps.Publisher.PublishRaw(ctx, streams.StreamQueryTerminal, "query.terminal", "v1", terminal); err != nil {
			return fmt.Errorf("publish irrelevant terminal: %w", err)
		}
		if w.deps.Metrics != nil {
			w.deps.Metrics.SagasFailed.WithLabelValues(sagaerr.ErrIrrelevant.Error()).Inc()
		}
		return nil
	}

	sql, ok := extractSQL(result.FinalText)
	if !ok {
		stageErr := sagaerr.NewStageError("discover_generate", sagaerr.ErrSqlNotProduced, "")
		return writeTerminalFailure(ctx, w.deps, payload, stageErr, false)
	}

	check := sqlsafety.Check(sql)
	if !check.Safe {
		stageErr := sagaerr.NewStageError("discover_generate", sagaerr.ErrUnsafeStatement, check.RejectedReason)
		return writeTerminalFailure(ctx, w.deps, payload, stageErr, false)
	}

	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{GeneratedSQL: &sql}); err != nil {
		return fmt.Errorf("write generated_sql: %w", err)
	}

	generated := map[string]interface{}{
		"saga_id":       payload.SagaID,
		"tenant_id":     payload.TenantID,
		"generated_sql": sql,
	}
	if _, err := w.deps.Publisher.PublishRaw(ctx, streams.StreamQueryGenerated, "query.generated", "v1", generated); err != nil {
		return fmt.Errorf("publish query.generated: %w", err)
	}
	return nil
}
