package saga

import (
	"testing"
	"time"
)

func TestNewRecordStartsPendingWithEmptyCallStack(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecord("saga-1", "tenant-1", "how many orders last week?", 1, now)

	if r.Status != StatusPending {
		t.Fatalf("Status = %q, want pending", r.Status)
	}
	if len(r.CallStack) != 0 {
		t.Fatalf("CallStack = %v, want empty", r.CallStack)
	}
	if r.SelfCorrectionBudgetRemaining != 1 {
		t.Fatalf("SelfCorrectionBudgetRemaining = %d, want 1", r.SelfCorrectionBudgetRemaining)
	}
	if r.IsTerminal() {
		t.Fatalf("a fresh record must not be terminal")
	}
}

func TestAppendStepRollsUpDurationAndTokens(t *testing.T) {
	r := NewRecord("saga-1", "tenant-1", "q", 1, time.Now())
	r.AppendStep(Step{
		StepName:   "discover_generate",
		Status:     StepSuccess,
		DurationMs: 120,
		Metadata:   Metadata{Usage: Usage{TotalTokens: 50}},
	})
	r.AppendStep(Step{
		StepName:   "execute",
		Status:     StepSuccess,
		DurationMs: 30,
		Metadata:   Metadata{Usage: Usage{TotalTokens: 10}},
	})

	if len(r.CallStack) != 2 {
		t.Fatalf("CallStack len = %d, want 2", len(r.CallStack))
	}
	if r.TotalDurationMs != 150 {
		t.Fatalf("TotalDurationMs = %v, want 150", r.TotalDurationMs)
	}
	if r.TotalTokens != 60 {
		t.Fatalf("TotalTokens = %d, want 60", r.TotalTokens)
	}
}

func TestPatchApplyOnlySetsExplicitFields(t *testing.T) {
	r := NewRecord("saga-1", "tenant-1", "q", 1, time.Now())
	r.FormattedResponse = strPtr("stale answer")

	sql := "SELECT 1"
	status := StatusExecuting
	p := Patch{Status: &status, GeneratedSQL: &sql}
	p.Apply(r, time.Now())

	if r.Status != StatusExecuting {
		t.Fatalf("Status = %q, want executing", r.Status)
	}
	if r.GeneratedSQL == nil || *r.GeneratedSQL != sql {
		t.Fatalf("GeneratedSQL = %v, want %q", r.GeneratedSQL, sql)
	}
	if r.FormattedResponse == nil || *r.FormattedResponse != "stale answer" {
		t.Fatalf("unset patch field must not clobber existing value, got %v", r.FormattedResponse)
	}
}

func TestPatchDecrementsSelfCorrectionBudgetOnce(t *testing.T) {
	r := NewRecord("saga-1", "tenant-1", "q", 1, time.Now())

	p := Patch{DecrementSelfCorrectionBudget: true}
	p.Apply(r, time.Now())
	if r.SelfCorrectionBudgetRemaining != 0 {
		t.Fatalf("SelfCorrectionBudgetRemaining = %d, want 0", r.SelfCorrectionBudgetRemaining)
	}

	p.Apply(r, time.Now())
	if r.SelfCorrectionBudgetRemaining != 0 {
		t.Fatalf("budget must not go negative, got %d", r.SelfCorrectionBudgetRemaining)
	}
}

func TestIsTerminalCoversCompletedAndError(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusGenerating, false},
		{StatusExecuting, false},
		{StatusFormatting, false},
		{StatusCompleted, true},
		{StatusError, true},
	}
	for _, tc := range cases {
		r := &Record{Status: tc.status}
		if got := r.IsTerminal(); got != tc.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func strPtr(s string) *string { return &s }
