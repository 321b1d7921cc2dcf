package saga

// StepStatus is a Step Record's own status, distinct from the saga-level
// Status — a step can fail without necessarily terminating the saga (the
// tool loop reports tool errors back to the model and continues).
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepFailed  StepStatus = "failed"
)

// ToolCall records one dispatched tool invocation inside a Step's
// tools_used list, per spec.md §3.
type ToolCall struct {
	Tool       string  `json:"tool"`
	Args       string  `json:"args"`
	Response   string  `json:"response"`
	DurationMs float64 `json:"duration_ms"`
	Status     string  `json:"status"`
}

// Usage carries prompt/response/total token counts for a single LLM call.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// Turn is one request/response exchange inside a tool-loop invocation,
// captured for the InteractionHistory supplement (SPEC_FULL.md
// SUPPLEMENTED FEATURES, grounded on the original's get_interaction_history).
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Metadata carries the stage-specific fields named in spec.md §3.
type Metadata struct {
	Prompt           string     `json:"prompt,omitempty"`
	LLMReasoning     string     `json:"llm_reasoning,omitempty"`
	ToolsUsed        []ToolCall `json:"tools_used,omitempty"`
	AvailableTables  []string   `json:"available_tables,omitempty"`
	SQL              string     `json:"sql,omitempty"`
	Usage            Usage      `json:"usage"`
	Reason           string     `json:"reason,omitempty"`
	InteractionHistory []Turn   `json:"interaction_history,omitempty"`
}

// Step is the Step Record from spec.md §3.
type Step struct {
	StepName   string     `json:"step_name"`
	Status     StepStatus `json:"status"`
	DurationMs float64    `json:"duration_ms"`
	Metadata   Metadata   `json:"metadata"`
}
