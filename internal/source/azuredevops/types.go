package azuredevops

// Work item field reference names read by the connector.
const (
	FieldID          = "System.Id"
	FieldTeamProject = "System.TeamProject"
	FieldTitle       = "System.Title"
	FieldDescription = "System.Description"
	FieldAssignedTo  = "System.AssignedTo"
	FieldState       = "System.State"
	FieldChangedDate = "System.ChangedDate"
)

// ExpandFields asks the work items endpoint to return all fields.
const ExpandFields = "Fields"

// Wiql is the request body of POST /_apis/wit/wiql.
type Wiql struct {
	Query string `json:"query"`
}

// WorkItemReference is a lightweight pointer to a work item.
type WorkItemReference struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItemQueryResult is the response from POST /_apis/wit/wiql.
type WorkItemQueryResult struct {
	QueryType       string              `json:"queryType"`
	QueryResultType string              `json:"queryResultType"`
	AsOf            string              `json:"asOf"`
	WorkItems       []WorkItemReference `json:"workItems"`
}

// IDs returns the identifiers of the matched work items in query order.
func (r *WorkItemQueryResult) IDs() []int {
	if r == nil || len(r.WorkItems) == 0 {
		return []int{}
	}
	ids := make([]int, 0, len(r.WorkItems))
	for _, wi := range r.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids
}

// WorkItem represents a single work item from the REST API. Field values
// keep their JSON shape: strings, numbers, or nested objects such as
// identity references.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	URL    string         `json:"url"`
	Fields map[string]any `json:"fields"`
}

// WorkItemList is the response from GET /_apis/wit/workitems.
type WorkItemList struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// IdentityRef is the shape of identity fields such as System.AssignedTo.
type IdentityRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// TeamProject is the response from GET /_apis/projects/{project}.
type TeamProject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       string `json:"state"`
}

// ErrorResponse is the standard Azure DevOps error body.
type ErrorResponse struct {
	ID        string `json:"$id"`
	Message   string `json:"message"`
	TypeName  string `json:"typeName"`
	TypeKey   string `json:"typeKey"`
	ErrorCode int    `json:"errorCode"`
}
