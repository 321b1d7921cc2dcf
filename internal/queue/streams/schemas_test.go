package streams

import (
	"encoding/json"
	"testing"
)

func TestSagaSchemasValidate(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	initiated := map[string]interface{}{
		"saga_id":   "saga-123",
		"tenant_id": "tenant-a",
		"question":  "how many orders shipped last week?",
	}
	data, err := json.Marshal(initiated)
	if err != nil {
		t.Fatalf("marshal initiated payload: %v", err)
	}
	if err := reg.Validate("query.initiated", "v1", data); err != nil {
		t.Fatalf("expected query.initiated payload to validate: %v", err)
	}

	generated := map[string]interface{}{
		"saga_id":       "saga-123",
		"tenant_id":     "tenant-a",
		"generated_sql": "SELECT count(*) FROM orders",
		"is_irrelevant": false,
	}
	data, err = json.Marshal(generated)
	if err != nil {
		t.Fatalf("marshal generated payload: %v", err)
	}
	if err := reg.Validate("query.generated", "v1", data); err != nil {
		t.Fatalf("expected query.generated payload to validate: %v", err)
	}

	executed := map[string]interface{}{
		"saga_id":                           "saga-123",
		"tenant_id":                         "tenant-a",
		"raw_results":                       "| count |\n| --- |\n| 42 |",
		"self_correction_budget_remaining": 1,
	}
	data, err = json.Marshal(executed)
	if err != nil {
		t.Fatalf("marshal executed payload: %v", err)
	}
	if err := reg.Validate("query.executed", "v1", data); err != nil {
		t.Fatalf("expected query.executed payload to validate: %v", err)
	}

	terminal := map[string]interface{}{
		"saga_id":             "saga-123",
		"tenant_id":           "tenant-a",
		"status":              "completed",
		"formatted_response":  "42 orders shipped last week.",
	}
	data, err = json.Marshal(terminal)
	if err != nil {
		t.Fatalf("marshal terminal payload: %v", err)
	}
	if err := reg.Validate("query.terminal", "v1", data); err != nil {
		t.Fatalf("expected query.terminal payload to validate: %v", err)
	}
}

func TestSagaSchemaRejectsMissingRequiredField(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	missingQuestion := map[string]interface{}{
		"saga_id":   "saga-123",
		"tenant_id": "tenant-a",
	}
	data, err := json.Marshal(missingQuestion)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := reg.Validate("query.initiated", "v1", data); err == nil {
		t.Fatalf("expected validation to fail for missing question field")
	}
}
