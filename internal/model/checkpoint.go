package model

import "time"

// SyncMode identifies how a sync run retrieved documents.
type SyncMode string

const (
	SyncModeLoad SyncMode = "load"
	SyncModePoll SyncMode = "poll"
)

// RunStatus is the outcome of a sync run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Checkpoint records how far incremental polling has progressed for a
// connector.
type Checkpoint struct {
	ConnectorID string `json:"connector_id"`

	// PolledThrough is the inclusive upper bound of the last successful
	// retrieval window.
	PolledThrough time.Time `json:"polled_through"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SyncRun is the record of a single load or poll execution.
type SyncRun struct {
	ID          string    `json:"id"`
	ConnectorID string    `json:"connector_id"`
	Mode        SyncMode  `json:"mode"`

	// WindowStart is nil for full loads.
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time  `json:"window_end"`
	Batches     int        `json:"batches"`
	Documents   int        `json:"documents"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}
