// Package saga defines the Saga Record and Step Record data model from
// spec.md §3, independent of how they are persisted (see internal/sagastore)
// or moved across the bus (see internal/queue/streams).
package saga

import "time"

// Status is the saga's lifecycle status. Transitions are monotonic along
// pending -> generating -> executing -> formatting -> completed, except
// that any stage may short-circuit to error (including the irrelevant
// short-circuit in spec.md §4.4, distinguished by IsIrrelevant).
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusExecuting  Status = "executing"
	StatusFormatting Status = "formatting"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Record is the Saga Record from spec.md §3, keyed by SagaID with a TTL of
// roughly one hour after reaching a terminal status.
type Record struct {
	SagaID            string   `json:"saga_id"`
	TenantID          string   `json:"tenant_id"`
	Question          string   `json:"question"`
	Status            Status   `json:"status"`
	GeneratedSQL      *string  `json:"generated_sql,omitempty"`
	RawResults        *string  `json:"raw_results,omitempty"`
	FormattedResponse *string  `json:"formatted_response,omitempty"`
	IsIrrelevant      bool     `json:"is_irrelevant"`
	ErrorMessage      *string  `json:"error_message,omitempty"`
	CallStack         []Step   `json:"call_stack"`
	TotalDurationMs   float64  `json:"total_duration_ms"`
	TotalTokens       int      `json:"total_tokens"`

	// SelfCorrectionBudgetRemaining implements SPEC_FULL.md Open Question 1:
	// the retry budget for stage-2-to-stage-1 self-correction, fixed at 1.
	SelfCorrectionBudgetRemaining int `json:"self_correction_budget_remaining"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates the initial pending record for a freshly submitted
// question, per C5's submit() contract in spec.md §4.5.
func NewRecord(sagaID, tenantID, question string, selfCorrectionBudget int, now time.Time) *Record {
	return &Record{
		SagaID:                        sagaID,
		TenantID:                      tenantID,
		Question:                      question,
		Status:                        StatusPending,
		CallStack:                     []Step{},
		SelfCorrectionBudgetRemaining: selfCorrectionBudget,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
}

// IsTerminal reports whether the record has reached completed or error.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

// AppendStep appends a step record to the (append-only) call stack and
// rolls up its duration/token usage, per spec.md §3's invariant that
// len(call_stack) never decreases.
func (r *Record) AppendStep(step Step) {
	r.CallStack = append(r.CallStack, step)
	r.TotalDurationMs += step.DurationMs
	r.TotalTokens += step.Metadata.Usage.TotalTokens
}

// AccumulateUsage rolls a step's token usage into the saga-level
// total_tokens rollup named in spec.md §3, grounded on the original's
// per-step usage_metadata capture (SPEC_FULL.md SUPPLEMENTED FEATURES).
// AppendStep already performs this roll-up; this method exists so a
// caller that appends a step via the store's Patch (rather than calling
// AppendStep directly against an in-memory Record) can still express the
// same accumulation explicitly, e.g. when previewing totals before a
// patch is applied.
func (r *Record) AccumulateUsage(step Step) {
	r.TotalDurationMs += step.DurationMs
	r.TotalTokens += step.Metadata.Usage.TotalTokens
}

// Patch is a partial update to a Record. Only non-nil/non-zero fields are
// applied by the state store's update(), per spec.md §4.3's "a writer may
// not clobber fields it did not explicitly set".
type Patch struct {
	Status            *Status
	GeneratedSQL      *string
	RawResults        *string
	FormattedResponse *string
	IsIrrelevant      *bool
	ErrorMessage      *string
	AppendSteps       []Step
	DecrementSelfCorrectionBudget bool
}

// Apply mutates r in place according to the patch's set fields.
func (p Patch) Apply(r *Record, now time.Time) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.GeneratedSQL != nil {
		r.GeneratedSQL = p.GeneratedSQL
	}
	if p.RawResults != nil {
		r.RawResults = p.RawResults
	}
	if p.FormattedResponse != nil {
		r.FormattedResponse = p.FormattedResponse
	}
	if p.IsIrrelevant != nil {
		r.IsIrrelevant = *p.IsIrrelevant
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = p.ErrorMessage
	}
	for _, step := range p.AppendSteps {
		r.AppendStep(step)
	}
	if p.DecrementSelfCorrectionBudget && r.SelfCorrectionBudgetRemaining > 0 {
		r.SelfCorrectionBudgetRemaining--
	}
	r.UpdatedAt = now
}
