package agent

import (
	"fmt"
	"strings"

	"dbma/internal/store"
)

// systemPromptTemplate frames the SQL generation call. The schema section is
// the formatted snapshot from the schema cache.
const systemPromptTemplate = `You are a database assistant for a MySQL database named "%s".

You answer questions about the database by writing SQL. Rules:
- When a question requires data, respond with exactly one SQL statement inside a ` + "```sql" + ` fence.
- Use only tables and columns that appear in the schema below.
- For questions that need no query (greetings, questions about the schema itself), answer in plain text without SQL.
- Never invent table or column names.

DATABASE SCHEMA:
%s`

// healerPromptTemplate frames a correction attempt. The error text is passed
// verbatim from the database.
const healerPromptTemplate = `The following SQL statement failed against a MySQL database named "%s".

Failed SQL:
%s

Database error:
%s

DATABASE SCHEMA:
%s

Write a corrected SQL statement that fixes this error. Respond with exactly one SQL statement inside a ` + "```sql" + ` fence and nothing else.`

// summarizerSystemPrompt frames the rolling summary generation call.
const summarizerSystemPrompt = `You summarize a conversation between a user and a database assistant.
Produce a dense summary that preserves: what the user is trying to accomplish, which tables and columns were discussed, important query results and numbers, and any decisions or corrections made.
Respond with the summary text only.`

// buildGenerationPrompt assembles the user-side prompt for one turn:
// rolling summary, verbatim recent tail, then the new user input.
func buildGenerationPrompt(tc *TurnContext, userInput string) string {
	var b strings.Builder
	if tc.Summary != "" {
		b.WriteString("CONVERSATION SUMMARY (older turns):\n")
		b.WriteString(tc.Summary)
		b.WriteString("\n\n")
	}
	if len(tc.Recent) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		b.WriteString(renderTranscript(tc.Recent))
		b.WriteString("\n")
	}
	b.WriteString("USER: ")
	b.WriteString(userInput)
	return b.String()
}

// buildSummarizerPrompt assembles the input for a compaction call: the prior
// summary, if any, followed by the messages being folded.
func buildSummarizerPrompt(priorSummary string, transcript string) string {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("PREVIOUS SUMMARY:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("NEW MESSAGES TO FOLD IN:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nProduce an updated summary covering both.")
	return b.String()
}

func buildHealerPrompt(database, failedSQL, dbError, schemaContext string) string {
	return fmt.Sprintf(healerPromptTemplate, database, failedSQL, dbError, schemaContext)
}

func buildSystemPrompt(database, schemaContext string) string {
	return fmt.Sprintf(systemPromptTemplate, database, schemaContext)
}

// renderQueryHistory renders recent audit records for the prompt so the
// model can reuse statements that already worked.
func renderQueryHistory(records []store.QueryRecord) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRECENT QUERIES ON THIS DATABASE:\n")
	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = "failed: " + rec.ErrorMessage
		}
		fmt.Fprintf(&b, "- %s (%s)\n", rec.SQLQuery, status)
	}
	return b.String()
}
