package azuredevops

import (
	"strings"
	"time"
)

// buildWIQL returns the query selecting work item IDs of project, optionally
// bounded by changed date on either side (both inclusive), oldest first.
//
// WIQL has no bind parameters; the project name is embedded as a string
// literal with single quotes doubled.
func buildWIQL(project string, start, end *time.Time) string {
	var b strings.Builder
	b.WriteString("SELECT [" + FieldID + "] FROM WorkItems WHERE [" + FieldTeamProject + "]='")
	b.WriteString(quoteWIQL(project))
	b.WriteString("'")
	if start != nil {
		b.WriteString(" AND [" + FieldChangedDate + "] >= '" + formatISO(*start) + "'")
	}
	if end != nil {
		b.WriteString(" AND [" + FieldChangedDate + "] <= '" + formatISO(*end) + "'")
	}
	b.WriteString(" ORDER BY [" + FieldChangedDate + "] ASC")
	return b.String()
}

// quoteWIQL escapes a value for use inside a single-quoted WIQL literal.
func quoteWIQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// formatISO renders t as an ISO-8601 timestamp with a numeric offset,
// e.g. 2023-11-14T22:13:20+00:00. Sub-second values are written with
// microsecond precision.
func formatISO(t time.Time) string {
	t = t.Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
