package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// queryRows is execute_sql's result shape: column names plus string-coerced
// row values (coercion happens at the tool server, which is closer to the
// driver's native types).
type queryRows struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

const maxRenderedRows = 50

// renderMarkdownTable builds the markdown table stage 2 writes to
// raw_results, truncated to 50 rows with a "*...truncated...*" marker per
// spec.md §4.4. No table-rendering library exists anywhere in the example
// pack, so this is a small stdlib-only helper (see DESIGN.md).
func renderMarkdownTable(content string) (string, error) {
	var result queryRows
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return "", fmt.Errorf("unmarshal execute_sql result: %w", err)
	}

	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteString(" |\n")
	b.WriteString("|")
	for range result.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	rows := result.Rows
	truncated := len(rows) > maxRenderedRows
	if truncated {
		rows = rows[:maxRenderedRows]
	}
	for _, row := range rows {
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |\n")
	}
	if truncated {
		b.WriteString("*...truncated...*\n")
	}
	return b.String(), nil
}
