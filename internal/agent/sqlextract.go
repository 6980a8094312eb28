package agent

import (
	"regexp"
	"strings"
)

var (
	sqlFenceRe     = regexp.MustCompile("(?is)```sql\\s*(.*?)```")
	anyFenceRe     = regexp.MustCompile("(?s)```\\s*(.*?)```")
	thinkBlockRe   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	sqlKeywordLine = regexp.MustCompile(`(?im)^\s*(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|SHOW|DESCRIBE|DESC|EXPLAIN|WITH|TRUNCATE|REPLACE)\b`)
)

// sqlLeadKeywords identifies an untagged code fence as SQL.
var sqlLeadKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP",
	"SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH", "TRUNCATE", "REPLACE",
}

// CleanResponse strips reasoning blocks some models emit before the answer.
func CleanResponse(response string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(response, ""))
}

// ExtractSQL pulls the SQL statement out of a model response. Preference
// order: a tagged sql fence, an untagged fence starting with a SQL keyword,
// then a bare keyword-led statement in the prose. Returns "" when the
// response carries no SQL.
func ExtractSQL(response string) string {
	response = CleanResponse(response)

	if m := sqlFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}

	for _, m := range anyFenceRe.FindAllStringSubmatch(response, -1) {
		body := strings.TrimSpace(m[1])
		upper := strings.ToUpper(body)
		for _, kw := range sqlLeadKeywords {
			if strings.HasPrefix(upper, kw) {
				return body
			}
		}
	}

	if loc := sqlKeywordLine.FindStringIndex(response); loc != nil {
		stmt := response[loc[0]:]
		// Cut at the terminating semicolon, or take through end of text.
		if idx := strings.IndexByte(stmt, ';'); idx >= 0 {
			stmt = stmt[:idx+1]
		}
		return strings.TrimSpace(stmt)
	}

	return ""
}

// IsDestructive reports whether a statement mutates or removes data and
// should be confirmed before execution.
func IsDestructive(sqlText string) bool {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(sqlText)))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "DELETE", "DROP", "TRUNCATE", "UPDATE":
		return true
	}
	return false
}
