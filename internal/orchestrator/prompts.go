package orchestrator

import "fmt"

const stage1SystemPrompt = `You are a SQL analyst for a tenant's relational database. Given a
natural-language question, decide if it can plausibly be answered from this
tenant's data. If not, call check_relevance with is_relevant=false and a
short reason, and stop.

Otherwise, discover the schema with list_tables and describe_table, consult
search_knowledge_base for business definitions relevant to the question, and
then produce exactly one read-only SQL statement (SELECT, or WITH ... that
terminates in SELECT) inside a fenced code block. Do not use INSERT, UPDATE,
DELETE, DROP, ALTER, TRUNCATE, GRANT, REVOKE, or CREATE.`

const stage3SystemPrompt = `You write a short executive summary of a database query's results for a
business user. Given the original question, the SQL that was run, and a
markdown table of results, produce a summary under 2000 characters. Do not
include raw SQL in your answer.`

func stage1UserMessage(question string, reflection *ReflectionHint) string {
	if reflection == nil {
		return question
	}
	return fmt.Sprintf(
		"%s\n\nThe previous attempt produced this SQL:\n```sql\n%s\n```\nwhich failed with this database error:\n%s\n\nProduce a corrected statement.",
		question, reflection.FailedSQL, reflection.DBError,
	)
}

func stage3UserMessage(question, generatedSQL, rawResults string) string {
	return fmt.Sprintf("Question: %s\n\nSQL:\n%s\n\nResults:\n%s", question, generatedSQL, rawResults)
}
