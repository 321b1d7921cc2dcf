package toolloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
)

// alwaysToolCallProvider always returns a tool call, never finishing text,
// to exercise the IterationBudgetExceeded path (TESTABLE PROPERTIES scenario 5).
type alwaysToolCallProvider struct{}

func (alwaysToolCallProvider) GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.CompletionResult, error) {
	return llm.CompletionResult{
		ToolCalls: []llm.ToolCallRequest{{ID: "1", Name: "noop", Arguments: "{}"}},
	}, nil
}

func (p alwaysToolCallProvider) Generate(ctx context.Context, messages []llm.Message) (llm.CompletionResult, error) {
	return p.GenerateWithTools(ctx, messages, nil)
}

func (alwaysToolCallProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func TestRunIterationBudgetExceeded(t *testing.T) {
	cat := Catalogue{
		Tools: []llm.Tool{{Name: "noop"}},
		Dispatch: func(ctx context.Context, name, argsJSON string) (string, bool, error) {
			return "ok", false, nil
		},
	}
	_, err := Run(context.Background(), alwaysToolCallProvider{}, "sys", "hello", cat, Config{MaxIterations: 8})
	if !errors.Is(err, sagaerr.ErrIterationBudgetExceeded) {
		t.Fatalf("expected ErrIterationBudgetExceeded, got %v", err)
	}
}

// textOnlyProvider returns text immediately, verifying the loop terminates
// on the first iteration without requiring a tool dispatch.
type textOnlyProvider struct{}

func (textOnlyProvider) GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.CompletionResult, error) {
	return llm.CompletionResult{Text: "final answer"}, nil
}
func (p textOnlyProvider) Generate(ctx context.Context, messages []llm.Message) (llm.CompletionResult, error) {
	return p.GenerateWithTools(ctx, messages, nil)
}
func (textOnlyProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) { return nil, nil }

func TestRunTextOnlyTerminatesImmediately(t *testing.T) {
	res, err := Run(context.Background(), textOnlyProvider{}, "sys", "hello", Catalogue{}, Config{MaxIterations: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalText != "final answer" {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("expected exactly one step, got %d", len(res.Steps))
	}
}

// erroringToolProvider returns a tool call once, then text; the dispatcher
// reports an error on the first call — the loop must continue rather than
// abort, per spec.md §4.2's "MUST NOT raise on a single tool error".
type erroringToolProvider struct{ calls int }

func (p *erroringToolProvider) GenerateWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.CompletionResult, error) {
	p.calls++
	if p.calls == 1 {
		return llm.CompletionResult{ToolCalls: []llm.ToolCallRequest{{ID: "1", Name: "flaky", Arguments: "{}"}}}, nil
	}
	return llm.CompletionResult{Text: "recovered"}, nil
}
func (p *erroringToolProvider) Generate(ctx context.Context, messages []llm.Message) (llm.CompletionResult, error) {
	return p.GenerateWithTools(ctx, messages, nil)
}
func (*erroringToolProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) { return nil, nil }

func TestRunContinuesPastToolError(t *testing.T) {
	cat := Catalogue{
		Tools: []llm.Tool{{Name: "flaky"}},
		Dispatch: func(ctx context.Context, name, argsJSON string) (string, bool, error) {
			return "boom", true, nil
		},
	}
	res, err := Run(context.Background(), &erroringToolProvider{}, "sys", "hello", cat, Config{MaxIterations: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalText != "recovered" {
		t.Fatalf("expected loop to continue past tool error, got %q", res.FinalText)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(res.Steps))
	}
	if res.Steps[0].Metadata.ToolsUsed[0].Status != "error" {
		t.Fatalf("expected first tool call recorded as error")
	}
}

// TestRunRecordsInteractionHistoryOnFinalStep covers the InteractionHistory
// supplement (SPEC_FULL.md SUPPLEMENTED FEATURES): the step that ends the
// loop must carry the full prompt/response/tool-call transcript, not just
// its own iteration's fields.
func TestRunRecordsInteractionHistoryOnFinalStep(t *testing.T) {
	cat := Catalogue{
		Tools: []llm.Tool{{Name: "flaky"}},
		Dispatch: func(ctx context.Context, name, argsJSON string) (string, bool, error) {
			return "tool result", false, nil
		},
	}
	res, err := Run(context.Background(), &erroringToolProvider{}, "sys", "hello", cat, Config{MaxIterations: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := res.Steps[len(res.Steps)-1]
	history := final.Metadata.InteractionHistory
	if len(history) == 0 {
		t.Fatalf("expected a non-empty interaction history on the final step")
	}
	if history[0].Role != "system" || history[0].Content != "sys" {
		t.Fatalf("expected the system prompt as the first turn, got %+v", history[0])
	}
	if history[len(history)-1].Role != "assistant" || history[len(history)-1].Content != "recovered" {
		t.Fatalf("expected the final answer as the last turn, got %+v", history[len(history)-1])
	}
}

func TestRunLoopTimeout(t *testing.T) {
	cat := Catalogue{
		Tools: []llm.Tool{{Name: "noop"}},
		Dispatch: func(ctx context.Context, name, argsJSON string) (string, bool, error) {
			time.Sleep(5 * time.Millisecond)
			return "ok", false, nil
		},
	}
	_, err := Run(context.Background(), alwaysToolCallProvider{}, "sys", "hello", cat, Config{MaxIterations: 1000, LoopTimeout: 10 * time.Millisecond})
	if !errors.Is(err, sagaerr.ErrLoopTimeout) {
		t.Fatalf("expected ErrLoopTimeout, got %v", err)
	}
}
