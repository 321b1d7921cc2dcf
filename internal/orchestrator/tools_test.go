package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/registry"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
)

// fakeRegistryServer serves GET /servers/resolve with one endpoint,
// standing in for internal/registry's own HTTP surface (which applies
// Registry.Resolve's round-robin policy server-side).
func fakeRegistryServer(t *testing.T, endpoint string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"endpoint": endpoint})
	}))
}

// fakeToolServer speaks toolclient's JSON-RPC-ish wire protocol, standing
// in for a real tool server behind internal/registry (see DESIGN.md's
// "no internal/toolserver" scope decision).
func fakeToolServer(t *testing.T, handle func(method string, params map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result := handle(req.Method, req.Params)
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestDispatchCallsResolvedToolServerWithTenantInjected(t *testing.T) {
	var gotArgs map[string]any
	tool := fakeToolServer(t, func(method string, params map[string]any) map[string]any {
		if method == "call_tool" {
			gotArgs, _ = params["arguments"].(map[string]any)
		}
		return map[string]any{"content": "[]", "is_error": false}
	})
	defer tool.Close()

	reg := fakeRegistryServer(t, tool.URL)
	defer reg.Close()

	d := newToolDispatcher(registry.NewClient(reg.URL), "tenant-42", 5*time.Second)
	content, isErr, err := d.dispatch(context.Background(), "list_tables", `{}`)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if isErr {
		t.Fatalf("expected success, got is_error=true")
	}
	if content != "[]" {
		t.Fatalf("content = %q, want []", content)
	}
	if gotArgs["tenant_id"] != "tenant-42" {
		t.Fatalf("tenant_id not injected into args: %v", gotArgs)
	}
}

func TestDispatchCheckRelevanceNeverLeavesProcess(t *testing.T) {
	d := newToolDispatcher(registry.NewClient("http://unreachable.invalid"), "tenant-1", time.Second)
	content, isErr, err := d.dispatch(context.Background(), "check_relevance", `{"is_relevant":true,"reason":"ok"}`)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if isErr {
		t.Fatalf("expected success")
	}
	if content != `{"is_relevant":true,"reason":"ok"}` {
		t.Fatalf("content = %q", content)
	}
}

func TestDispatchUnknownToolErrors(t *testing.T) {
	d := newToolDispatcher(registry.NewClient("http://unreachable.invalid"), "tenant-1", time.Second)
	_, isErr, err := d.dispatch(context.Background(), "delete_everything", `{}`)
	if err == nil {
		t.Fatalf("expected error for unknown tool")
	}
	if !isErr {
		t.Fatalf("expected isErr=true on unknown tool")
	}
}

func TestRelevanceVerdictDetectsIrrelevant(t *testing.T) {
	steps := []saga.Step{
		{
			StepName: "discover_generate",
			Metadata: saga.Metadata{
				ToolsUsed: []saga.ToolCall{
					{Tool: "check_relevance", Args: `{"is_relevant":false,"reason":"no revenue table"}`, Status: "success"},
				},
			},
		},
	}
	irrelevant, reason := relevanceVerdict(steps)
	if !irrelevant {
		t.Fatalf("expected irrelevant=true")
	}
	if reason != "no revenue table" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestRelevanceVerdictRelevantQuestionPassesThrough(t *testing.T) {
	steps := []saga.Step{
		{
			Metadata: saga.Metadata{
				ToolsUsed: []saga.ToolCall{
					{Tool: "check_relevance", Args: `{"is_relevant":true,"reason":"fine"}`, Status: "success"},
				},
			},
		},
	}
	irrelevant, _ := relevanceVerdict(steps)
	if irrelevant {
		t.Fatalf("expected irrelevant=false")
	}
}

func TestExtractSQLPullsFencedBlock(t *testing.T) {
	text := "Here is the query:\n```sql\nSELECT 1\n```\ndone."
	sql, ok := extractSQL(text)
	if !ok {
		t.Fatalf("expected a fenced block to be found")
	}
	if sql != "SELECT 1" {
		t.Fatalf("sql = %q", sql)
	}
}

func TestExtractSQLMissingBlockFails(t *testing.T) {
	_, ok := extractSQL("no code block here")
	if ok {
		t.Fatalf("expected no fenced block to be found")
	}
}

func TestWithTenantInjectsIntoNilArgs(t *testing.T) {
	args := withTenant(nil, "tenant-9")
	if args["tenant_id"] != "tenant-9" {
		t.Fatalf("withTenant did not inject tenant_id into nil args: %v", args)
	}
}
