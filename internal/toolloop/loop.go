// Package toolloop implements C2, the bounded LLM tool-calling loop from
// spec.md §4.2, adapted from agents_v2/node.go's MasterNode.Run() loop
// upstream: that loop breaks on error / explicit stop / no-actions /
// depth-limit / action-budget / wall-clock, planning and executing a DAG
// of actions each round. This loop is linear instead of DAG-shaped (the
// tool calls of an iteration are dispatched one at a time, never as
// parallel actions), so it keeps the same multi-break-condition shape but drops
// the DAG/spawn machinery.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
)

// ToolHandler dispatches one tool call by name. Handlers that reach a
// registry-resolved endpoint (database/knowledge-base tools) do so
// internally; the loop itself only knows about names, args and results.
type ToolHandler func(ctx context.Context, name string, argsJSON string) (result string, isError bool, err error)

// Catalogue is a named tool's schema plus its handler.
type Catalogue struct {
	Tools    []llm.Tool
	Dispatch ToolHandler
}

// Config bounds a single loop invocation.
type Config struct {
	MaxIterations int           // default 8, per spec.md §4.2
	CallTimeout   time.Duration // per-LLM-call timeout
	LoopTimeout   time.Duration // aggregate wall clock across all iterations
}

// Result is what one loop invocation produces: the final text answer (if
// any) and the Step Records accumulated along the way — one per
// iteration, per spec.md §4.2 step 1.
type Result struct {
	FinalText string
	Steps     []saga.Step
}

// Run drives the bounded loop described in spec.md §4.2. systemPrompt and
// userMessage seed the conversation; cat supplies the tool catalogue
// (possibly empty, as in stage 3's pure-text-generation use).
func Run(ctx context.Context, provider llm.Provider, systemPrompt, userMessage string, cat Catalogue, cfg Config) (Result, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	start := time.Now()
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	}

	var result Result

	for iteration := 0; ; iteration++ {
		if iteration >= cfg.MaxIterations {
			return result, sagaerr.NewStageError("tool_loop", sagaerr.ErrIterationBudgetExceeded,
				fmt.Sprintf("exceeded %d iterations", cfg.MaxIterations))
		}
		if cfg.LoopTimeout > 0 && time.Since(start) > cfg.LoopTimeout {
			return result, sagaerr.NewStageError("tool_loop", sagaerr.ErrLoopTimeout,
				fmt.Sprintf("exceeded aggregate timeout %s", cfg.LoopTimeout))
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		}
		iterStart := time.Now()
		completion, err := provider.GenerateWithTools(callCtx, messages, cat.Tools)
		if cancel != nil {
			cancel()
		}
		duration := time.Since(iterStart)
		if err != nil {
			return result, fmt.Errorf("tool loop iteration %d: %w", iteration, err)
		}

		step := saga.Step{
			StepName:   "tool_loop_iteration",
			Status:     saga.StepSuccess,
			DurationMs: float64(duration.Milliseconds()),
			Metadata: saga.Metadata{
				Prompt:       userMessage,
				LLMReasoning: completion.Text,
				Usage: saga.Usage{
					PromptTokens:   completion.Usage.PromptTokens,
					ResponseTokens: completion.Usage.ResponseTokens,
					TotalTokens:    completion.Usage.TotalTokens,
				},
			},
		}

		// Step 2: text-only response ends the loop.
		if len(completion.ToolCalls) == 0 {
			result.FinalText = completion.Text
			step.Metadata.InteractionHistory = interactionHistory(messages, completion.Text)
			result.Steps = append(result.Steps, step)
			return result, nil
		}

		// Step 3: dispatch each tool call sequentially (at-most-one
		// concurrent call per iteration, per spec.md §4.2's guarantee),
		// append assistant + tool messages, and record tools_used.
		assistantMsg := llm.Message{Role: "assistant", Content: completion.Text, ToolCalls: completion.ToolCalls}
		messages = append(messages, assistantMsg)

		for _, call := range completion.ToolCalls {
			callStart := time.Now()
			response, isError, dispatchErr := cat.Dispatch(ctx, call.Name, call.Arguments)
			callDuration := time.Since(callStart)
			status := "success"
			if isError || dispatchErr != nil {
				status = "error"
				if dispatchErr != nil {
					response = dispatchErr.Error()
				}
			}
			step.Metadata.ToolsUsed = append(step.Metadata.ToolsUsed, saga.ToolCall{
				Tool:       call.Name,
				Args:       call.Arguments,
				Response:   response,
				DurationMs: float64(callDuration.Milliseconds()),
				Status:     status,
			})

			// The loop MUST NOT raise on a single tool error: report it
			// back to the model and continue so it can self-correct.
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    response,
				ToolCallID: call.ID,
			})
		}

		result.Steps = append(result.Steps, step)
	}
}

// interactionHistory snapshots the full prompt/response/tool-call
// transcript up to and including the loop's final answer, grounded on
// original_source's get_interaction_history (apps/sql-insight-engine/
// src/agentic_sql/saga/utils.py): that helper walks the chat SDK's own
// history once, after the automatic-function-calling session ends, and
// attaches the result to the one saga step that ends the run — not to
// every intermediate step. This mirrors that single capture point.
func interactionHistory(messages []llm.Message, finalText string) []saga.Turn {
	turns := make([]saga.Turn, 0, len(messages)+1)
	for _, m := range messages {
		content := m.Content
		for _, tc := range m.ToolCalls {
			content += fmt.Sprintf("\n[tool_call %s(%s)]", tc.Name, tc.Arguments)
		}
		turns = append(turns, saga.Turn{Role: m.Role, Content: content})
	}
	return append(turns, saga.Turn{Role: "assistant", Content: finalText})
}

// ExtractArg reads a single field out of a tool call's raw JSON arguments.
func ExtractArg(argsJSON, field string) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &doc); err != nil {
		return "", fmt.Errorf("unmarshal tool arguments: %w", err)
	}
	v, ok := doc[field]
	if !ok {
		return "", fmt.Errorf("tool arguments missing field %q", field)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool argument %q: %w", field, err)
	}
	return string(b), nil
}

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:sql)?\\s*\\n(.*?)```")

// ExtractFencedBlock pulls the first fenced code block's content out of
// text, used by stage 1 to recover the generated SQL statement from the
// model's final message (spec.md §4.4).
func ExtractFencedBlock(text string) (string, bool) {
	match := fencedBlockPattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	block := strings.TrimSpace(match[1])
	if block == "" {
		return "", false
	}
	return block, true
}
