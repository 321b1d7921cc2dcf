// Package llm defines the abstract LLM client the tool loop, stage-3
// formatter and retrieval-only Q&A path all share, extending the upstream
// LLMProvider interface (internal/agent/core/types.go) with tool-calling
// support it never had.
package llm

import "context"

// Tool describes one entry in the tool catalogue passed to GenerateWithTools.
type Tool struct {
	Name        string
	Description string
	JSONSchema  map[string]interface{}
}

// ToolCallRequest is a single tool invocation the model asked for.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Message is one turn of the conversation threaded through GenerateWithTools.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string // set when Role == "tool"
	ToolCalls  []ToolCallRequest
}

// CompletionResult is the model's response to one GenerateWithTools call.
type CompletionResult struct {
	Text      string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// Usage mirrors internal/saga.Usage; kept separate so this package has no
// dependency on the saga package.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// Provider is the abstract LLM client collaborator named in spec.md §1.
type Provider interface {
	// GenerateWithTools sends the conversation plus tool catalogue and
	// returns either final text or a batch of tool calls to dispatch.
	GenerateWithTools(ctx context.Context, messages []Message, tools []Tool) (CompletionResult, error)
	// Generate is a plain text completion, used by stage 3 (no tool
	// catalogue) and the retrieval-only Q&A synthesis step.
	Generate(ctx context.Context, messages []Message) (CompletionResult, error)
	// Embed returns one embedding vector per input text, used by the
	// knowledge-base chunker/ingestor and the retrieval-only Q&A path.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
