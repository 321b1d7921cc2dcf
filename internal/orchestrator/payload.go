package orchestrator

// ReflectionHint augments a stage-1 re-entry with the failed SQL and
// database error text from the stage-2 execution that triggered
// self-correction, per spec.md §4.8 and SPEC_FULL.md's supplemented
// reflection-hint feature.
type ReflectionHint struct {
	FailedSQL string `json:"failed_sql"`
	DBError   string `json:"db_error"`
}

// StagePayload is the small bus envelope shared by all four stage topics,
// per spec.md §6: "messages are {saga_id, tenant_id, stage_hint?};
// envelopes are small, heavy state lives in the store." Reflection is
// additive and only populated on a self-correction re-entry.
type StagePayload struct {
	SagaID     string          `json:"saga_id"`
	TenantID   string          `json:"tenant_id"`
	StageHint  string          `json:"stage_hint,omitempty"`
	Reflection *ReflectionHint `json:"reflection,omitempty"`
}

// Stage hint values. "retry" marks a q.generated-stage-1 re-entry carrying
// a self-correction reflection (spec.md §4.4/§4.8); the empty value is the
// normal forward path.
const stageHintRetry = "retry"
