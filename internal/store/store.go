package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/azdo-connector/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentFilter controls filtering, sorting, and pagination for document
// queries.
type DocumentFilter struct {
	ConnectorID  string
	UpdatedSince *time.Time
	Query        *string
	SortDesc     bool
	Limit        int
	Offset       int
}

// Store defines the persistence interface for indexed documents, poll
// checkpoints, and sync run history.
type Store interface {
	// === Documents ===

	UpsertDocuments(ctx context.Context, connectorID string, docs []model.Document) error
	GetDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)
	GetDocumentByID(ctx context.Context, connectorID, id string) (*model.Document, error)
	CountDocuments(ctx context.Context, connectorID string) (int, error)

	// === Checkpoints ===

	// GetCheckpoint returns ErrNotFound when the connector has never
	// completed a run.
	GetCheckpoint(ctx context.Context, connectorID string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error

	// === Sync runs ===

	RecordSyncRun(ctx context.Context, run model.SyncRun) error
	GetSyncRuns(ctx context.Context, connectorID string, limit int) ([]model.SyncRun, error)
}
