package orchestrator

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/queue/streams"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
)

// writeTerminalFailure writes the error terminal status to C3 and
// publishes q.terminal, per spec.md §4.4 step 5 ("writes terminal status
// ... BEFORE acking").
func writeTerminalFailure(ctx context.Context, deps *Deps, payload StagePayload, stageErr *sagaerr.StageError, isIrrelevant bool) error {
	if _, err := deps.Store.Fail(ctx, payload.SagaID, stageErr, isIrrelevant); err != nil {
		return fmt.Errorf("write terminal failure: %w", err)
	}
	terminal := map[string]interface{}{
		"saga_id":       payload.SagaID,
		"tenant_id":     payload.TenantID,
		"status":        "error",
		"error_message": stageErr.Error(),
		"is_irrelevant": isIrrelevant,
	}
	if _, err := deps.Publisher.PublishRaw(ctx, streams.StreamQueryTerminal, "query.terminal", "v1", terminal); err != nil {
		return fmt.Errorf("publish terminal failure: %w", err)
	}
	if deps.Metrics != nil {
		deps.Metrics.SagasFailed.WithLabelValues(stageErr.Reason.Error()).Inc()
	}
	return nil
}

// writeTerminalCompletion writes the completed terminal status to C3 and
// publishes q.terminal.
func writeTerminalCompletion(ctx context.Context, deps *Deps, payload StagePayload, formattedResponse string) error {
	if _, err := deps.Store.Complete(ctx, payload.SagaID, formattedResponse); err != nil {
		return fmt.Errorf("write terminal completion: %w", err)
	}
	terminal := map[string]interface{}{
		"saga_id":             payload.SagaID,
		"tenant_id":           payload.TenantID,
		"status":              "completed",
		"formatted_response": formattedResponse,
	}
	if _, err := deps.Publisher.PublishRaw(ctx, streams.StreamQueryTerminal, "query.terminal", "v1", terminal); err != nil {
		return fmt.Errorf("publish terminal completion: %w", err)
	}
	if deps.Metrics != nil {
		deps.Metrics.SagasCompleted.Inc()
	}
	return nil
}
