package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagastore"
)

// ExecuteWorker runs stage 2 of C4, spec.md §4.4: a direct execute_sql
// call against C1's database role, no LLM involved. On a database error
// with self-correction budget remaining it re-enters stage 1 with a
// reflection hint instead of failing terminally.
type ExecuteWorker struct {
	deps *Deps
}

func NewExecuteWorker(deps *Deps) *ExecuteWorker {
	return &ExecuteWorker{deps: deps}
}

func (w *ExecuteWorker) Start(ctx context.Context, consumer *streams.Consumer) error {
	return runLoop(ctx, w.deps.Logger, w.deps.Store, consumer, streams.StreamQueryGenerated, "query.generated", func(ctx context.Context, payload StagePayload) error {
		if payload.StageHint == stageHintRetry {
			return nil // destined for the discover_generate worker, not us
		}
		return w.handle(ctx, payload)
	})
}

func (w *ExecuteWorker) handle(ctx context.Context, payload StagePayload) error {
	record, err := w.deps.Store.Get(ctx, payload.SagaID)
	if errors.Is(err, sagastore.ErrNotFound) {
		w.deps.Logger.Printf("drop stage2 message for unknown saga %s", payload.SagaID)
		return nil
	}
	if err != nil {
		return err
	}
	if record.IsTerminal() {
		return nil
	}
	if record.GeneratedSQL == nil {
		return fmt.Errorf("saga %s reached stage 2 without generated_sql", payload.SagaID)
	}

	executing := saga.StatusExecuting
	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{Status: &executing}); err != nil {
		return fmt.Errorf("mark executing: %w", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, w.deps.Saga.ToolCallTimeout)
	defer cancel()

	dispatcher := newToolDispatcher(w.deps.Registry, payload.TenantID, w.deps.Saga.ToolCallTimeout)
	argsJSON, err := executeSQLArgs(*record.GeneratedSQL)
	if err != nil {
		return fmt.Errorf("marshal execute_sql args: %w", err)
	}
	callStart := time.Now()
	response, isError, dispatchErr := dispatcher.dispatch(stageCtx, "execute_sql", argsJSON)
	duration := time.Since(callStart)

	callStatus := "success"
	if isError || dispatchErr != nil {
		callStatus = "error"
	}
	step := saga.Step{
		StepName:   "execute_sql",
		DurationMs: float64(duration.Milliseconds()),
		Metadata: saga.Metadata{
			SQL: *record.GeneratedSQL,
			ToolsUsed: []saga.ToolCall{{
				Tool:       "execute_sql",
				Args:       argsJSON,
				Response:   response,
				DurationMs: float64(duration.Milliseconds()),
				Status:     callStatus,
			}},
		},
	}

	if isError || dispatchErr != nil {
		step.Status = saga.StepError
		dbError := response
		if dispatchErr != nil {
			dbError = dispatchErr.Error()
		}
		step.Metadata.Reason = dbError
		if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{AppendSteps: []saga.Step{step}}); err != nil {
			return fmt.Errorf("append execute_sql failure step: %w", err)
		}
		return w.selfCorrectOrFail(ctx, payload, record, dbError)
	}

	step.Status = saga.StepSuccess
	rendered, err := renderMarkdownTable(response)
	if err != nil {
		return fmt.Errorf("render execute_sql result: %w", err)
	}

	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{
		AppendSteps: []saga.Step{step},
		RawResults:  &rendered,
	}); err != nil {
		return fmt.Errorf("write raw_results: %w", err)
	}

	executed := map[string]interface{}{
		"saga_id":     payload.SagaID,
		"tenant_id":   payload.TenantID,
		"raw_results": rendered,
	}
	if _, err := w.deps.Publisher.PublishRaw(ctx, streams.StreamQueryExecuted, "query.executed", "v1", executed); err != nil {
		return fmt.Errorf("publish query.executed: %w", err)
	}
	return nil
}

// selfCorrectOrFail implements spec.md §4.8: on an execution error, if
// budget remains, decrement it and re-enter stage 1 carrying a
// reflection hint; otherwise terminal-fail with execution_failed.
func (w *ExecuteWorker) selfCorrectOrFail(ctx context.Context, payload StagePayload, record *saga.Record, dbError string) error {
	if record.SelfCorrectionBudgetRemaining <= 0 {
		stageErr := sagaerr.NewStageError("execute", sagaerr.ErrExecutionFailed, dbError)
		return writeTerminalFailure(ctx, w.deps, payload, stageErr, false)
	}

	if _, err := w.deps.Store.Update(ctx, payload.SagaID, saga.Patch{DecrementSelfCorrectionBudget: true}); err != nil {
		return fmt.Errorf("decrement self_correction_budget_remaining: %w", err)
	}

	// generated_sql is carried because the query.generated schema requires
	// it on every event of that type, retries included.
	retry := map[string]interface{}{
		"saga_id":       payload.SagaID,
		"tenant_id":     payload.TenantID,
		"generated_sql": *record.GeneratedSQL,
		"stage_hint":    stageHintRetry,
		"reflection": &ReflectionHint{
			FailedSQL: *record.GeneratedSQL,
			DBError:   dbError,
		},
	}
	if _, err := w.deps.Publisher.PublishRaw(ctx, streams.StreamQueryGenerated, "query.generated", "v1", retry); err != nil {
		return fmt.Errorf("publish self-correction retry: %w", err)
	}
	return nil
}

func executeSQLArgs(sql string) (string, error) {
	b, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
