package streams

import "fmt"

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

// Stream names for the four saga bus topics from spec.md §4.4/§6, plus
// the knowledge-base ingestion topic from spec.md §4.6's "a separate
// consumer receives {tenant_id, doc_bytes, filename} messages".
const (
	StreamQueryInitiated = "q.initiated"
	StreamQueryGenerated = "q.generated"
	StreamQueryExecuted  = "q.executed"
	StreamQueryTerminal  = "q.terminal"
	StreamKBDocument     = "kb.document"
)

var baseDefinitions = []Definition{
	{
		EventType: "query.initiated",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["saga_id", "tenant_id", "question"],
  "properties": {
    "saga_id": {"type": "string", "minLength": 1},
    "tenant_id": {"type": "string", "minLength": 1},
    "question": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "query.generated",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["saga_id", "tenant_id", "generated_sql"],
  "properties": {
    "saga_id": {"type": "string", "minLength": 1},
    "tenant_id": {"type": "string", "minLength": 1},
    "generated_sql": {"type": "string", "minLength": 1},
    "is_irrelevant": {"type": "boolean"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "query.executed",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["saga_id", "tenant_id", "raw_results"],
  "properties": {
    "saga_id": {"type": "string", "minLength": 1},
    "tenant_id": {"type": "string", "minLength": 1},
    "raw_results": {"type": "string"},
    "self_correction_budget_remaining": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "query.terminal",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["saga_id", "tenant_id", "status"],
  "properties": {
    "saga_id": {"type": "string", "minLength": 1},
    "tenant_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["completed", "error"]},
    "formatted_response": {"type": "string"},
    "error_message": {"type": "string"},
    "is_irrelevant": {"type": "boolean"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "kb.document",
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tenant_id", "filename", "doc_bytes"],
  "properties": {
    "tenant_id": {"type": "string", "minLength": 1},
    "filename": {"type": "string", "minLength": 1},
    "doc_bytes": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the baseline event schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
