// Package sqlsafety implements the C8 safety gate from spec.md §4.8: a
// statement-boundary keyword allow/deny check. It is intentionally a
// keyword gate, not a full SQL parser — the upstream mcp-postgres tool
// server this is grounded on does the same thing with a plain
// strings.HasPrefix(query, "SELECT") check; this generalizes that to the
// full boundary-keyword ruleset the spec requires (WITH-terminating-in-
// SELECT, and explicit rejection of DML/DDL keywords at statement
// boundaries) without pulling in a full SQL grammar.
package sqlsafety

import (
	"regexp"
	"strings"
)

var deniedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE", "CREATE",
}

// statementSplit matches every semicolon, including one inside a quoted
// string, good enough for boundary detection on generated SQL (which is not
// adversarially obfuscated — it comes from the model, not an end user).
var statementSplit = regexp.MustCompile(`;`)

// keywordAtBoundary matches a denied keyword as the first token of a
// statement, or following another statement boundary / keyword such as a
// CTE comma, so that "WITH x AS (SELECT ...) DELETE FROM y" is rejected.
func keywordAtBoundary(stmt string) (string, bool) {
	trimmed := strings.TrimSpace(stmt)
	for _, kw := range deniedKeywords {
		re := regexp.MustCompile(`(?i)(^|\)|,|;)\s*` + kw + `\b`)
		if re.MatchString(trimmed) {
			return kw, true
		}
	}
	return "", false
}

// Result is the gate's verdict.
type Result struct {
	Safe           bool
	RejectedReason string
}

// Check validates sql against the safety gate. The first top-level
// statement must start with SELECT, or with WITH where the statement
// (after resolving any CTEs) terminates in a SELECT; any denied keyword
// occurring at a statement boundary anywhere in the text rejects the
// whole input, per spec.md §4.8.
func Check(sql string) Result {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return Result{Safe: false, RejectedReason: "empty statement"}
	}
	// Strip a single trailing semicolon for the terminating-statement check.
	trimmed = strings.TrimSuffix(trimmed, ";")

	upper := strings.ToUpper(trimmed)
	startsSelect := strings.HasPrefix(upper, "SELECT")
	startsWith := strings.HasPrefix(upper, "WITH")

	if !startsSelect && !startsWith {
		return Result{Safe: false, RejectedReason: "statement does not begin with SELECT or WITH"}
	}

	if startsWith {
		// A WITH statement must still terminate in a SELECT: find the last
		// top-level clause and require it start with SELECT once all CTE
		// parenthesised bodies are skipped. A practical approximation:
		// the final non-empty line/clause outside parentheses must start
		// with SELECT.
		if !withTerminatesInSelect(trimmed) {
			return Result{Safe: false, RejectedReason: "WITH statement does not terminate in SELECT"}
		}
	}

	for _, part := range statementSplit.Split(trimmed, -1) {
		if kw, found := keywordAtBoundary(part); found {
			return Result{Safe: false, RejectedReason: "denied keyword at statement boundary: " + kw}
		}
	}
	// Also scan the whole text for denied keywords outside of identifiers,
	// since a denied keyword can appear after a CTE's closing paren without
	// a semicolon separating it from the outer SELECT.
	if kw, found := keywordAtBoundary(trimmed); found {
		return Result{Safe: false, RejectedReason: "denied keyword at statement boundary: " + kw}
	}

	return Result{Safe: true}
}

// withTerminatesInSelect walks the string at paren-depth 0 and checks that
// the final top-level clause begins with SELECT.
func withTerminatesInSelect(stmt string) bool {
	depth := 0
	lastTopLevelStart := 0
	for i, r := range stmt {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				lastTopLevelStart = i + 1
			}
		}
	}
	// After the final top-level comma (separating CTEs), the remaining
	// text must itself contain a SELECT at depth 0: find the first
	// depth-0 SELECT after lastTopLevelStart.
	rest := stmt[lastTopLevelStart:]
	depth = 0
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && i+6 <= len(rest) && strings.EqualFold(rest[i:i+6], "SELECT") {
			return true
		}
	}
	return false
}
