package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/llm"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/registry"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/saga"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/toolclient"
	"github.com/mohammad-safakhou/sql-insight-saga/internal/toolloop"
)

// stage1Tools is the tool catalogue for Discover-&-Generate, per spec.md
// §4.4: search_knowledge_base, list_tables, describe_table, check_relevance.
func stage1Tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "check_relevance",
			Description: "Signal whether the question can be answered from this tenant's database.",
			JSONSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"is_relevant", "reason"},
				"properties": map[string]interface{}{
					"is_relevant": map[string]interface{}{"type": "boolean"},
					"reason":      map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Name:        "search_knowledge_base",
			Description: "Search the tenant's knowledge base for business definitions relevant to the question.",
			JSONSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Name:        "list_tables",
			Description: "List the tables available in the tenant's database.",
			JSONSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "describe_table",
			Description: "Describe a table's columns and types.",
			JSONSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"name"},
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string"},
				},
			},
		},
	}
}

// toolDispatcher resolves and invokes tenant-scoped tools via C1, per
// spec.md §4.2 step 3: "dispatch to the handler (which for database/KB
// tools goes through C1)". check_relevance never leaves the process — it
// is the model's own signal, recorded but not dispatched anywhere.
type toolDispatcher struct {
	registryClient *registry.Client
	tenantID       string
	callTimeout    time.Duration
}

func newToolDispatcher(registryClient *registry.Client, tenantID string, callTimeout time.Duration) *toolDispatcher {
	return &toolDispatcher{registryClient: registryClient, tenantID: tenantID, callTimeout: callTimeout}
}

func (d *toolDispatcher) dispatch(ctx context.Context, name, argsJSON string) (string, bool, error) {
	switch name {
	case "check_relevance":
		return argsJSON, false, nil
	case "search_knowledge_base":
		return d.callRole(ctx, "knowledge-base", name, argsJSON)
	case "list_tables", "describe_table", "execute_sql":
		return d.callRole(ctx, "database", name, argsJSON)
	default:
		return "", true, fmt.Errorf("unknown tool %q", name)
	}
}

func (d *toolDispatcher) callRole(ctx context.Context, role, name, argsJSON string) (string, bool, error) {
	endpoint, err := d.registryClient.Resolve(ctx, role)
	if err != nil {
		return "", true, err
	}

	var args map[string]interface{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", true, fmt.Errorf("unmarshal args for %s: %w", name, err)
		}
	}
	args = withTenant(args, d.tenantID)

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	client := toolclient.New(endpoint, d.callTimeout)
	result, err := client.CallTool(callCtx, name, args)
	if err != nil {
		return "", true, err
	}
	return result.Content, result.IsError, nil
}

func withTenant(args map[string]interface{}, tenantID string) map[string]interface{} {
	if args == nil {
		args = make(map[string]interface{})
	}
	args["tenant_id"] = tenantID
	return args
}

// relevanceVerdict inspects a completed tool-loop run for a
// check_relevance(is_relevant=false, ...) call, implementing spec.md
// §4.4's irrelevant short-circuit detection.
func relevanceVerdict(steps []saga.Step) (irrelevant bool, reason string) {
	for _, step := range steps {
		for _, call := range step.Metadata.ToolsUsed {
			if call.Tool != "check_relevance" {
				continue
			}
			var args struct {
				IsRelevant bool   `json:"is_relevant"`
				Reason     string `json:"reason"`
			}
			if err := json.Unmarshal([]byte(call.Args), &args); err != nil {
				continue
			}
			if !args.IsRelevant {
				return true, args.Reason
			}
		}
	}
	return false, ""
}

// extractSQL pulls the first fenced SQL code block out of the stage's
// final text, per spec.md §4.4's "produce a single read-only SQL
// statement in a fenced block".
func extractSQL(text string) (string, bool) {
	return toolloop.ExtractFencedBlock(text)
}
