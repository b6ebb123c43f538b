package azuredevops

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/azdo-connector/internal/model"
)

// changedDateLayouts are the ISO-8601 shapes accepted for System.ChangedDate
// once a trailing "Z" has been removed. Fractional seconds are accepted by
// time.Parse after the seconds field even when the layout omits them.
var changedDateLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04-07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// workItemToDocument converts a work item to a normalized document.
func workItemToDocument(item WorkItem, now func() time.Time) model.Document {
	fields := item.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	description, _ := fields[FieldDescription].(string)

	title, ok := fields[FieldTitle].(string)
	if !ok {
		title = fmt.Sprintf("Work Item %d", item.ID)
	}

	owners := []model.ExpertInfo{}
	if name := assigneeName(fields[FieldAssignedTo]); name != "" {
		owners = append(owners, model.ExpertInfo{DisplayName: name})
	}

	return model.Document{
		ID: strconv.Itoa(item.ID),
		Sections: []model.TextSection{
			{Link: item.URL, Text: description},
		},
		Source:             model.DocumentSourceAzureDevOps,
		SemanticIdentifier: title,
		DocUpdatedAt:       parseChangedDate(fields[FieldChangedDate], now),
		PrimaryOwners:      owners,
		Metadata: map[string]any{
			"state": fields[FieldState],
		},
	}
}

// parseChangedDate interprets a System.ChangedDate value. Unparseable or
// missing values fall back to now. The result always carries the UTC
// location: the parsed wall clock is kept and any offset it had is
// replaced, not converted.
func parseChangedDate(v any, now func() time.Time) time.Time {
	var t time.Time
	switch val := v.(type) {
	case string:
		parsed, err := parseISO(strings.TrimRight(val, "Z"))
		if err != nil {
			t = now().UTC()
		} else {
			t = parsed
		}
	case time.Time:
		t = val
	default:
		t = now().UTC()
	}
	return time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.UTC,
	)
}

func parseISO(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range changedDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// assigneeName extracts a display name from System.AssignedTo, which the
// REST API returns as an identity object and older payloads as a plain
// string.
func assigneeName(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		name, _ := val["displayName"].(string)
		return name
	case IdentityRef:
		return val.DisplayName
	case *IdentityRef:
		if val == nil {
			return ""
		}
		return val.DisplayName
	default:
		return ""
	}
}
