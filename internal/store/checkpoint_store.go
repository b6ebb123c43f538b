package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/azdo-connector/internal/model"
)

// GetCheckpoint retrieves the poll checkpoint for a connector.
func (s *SQLiteStore) GetCheckpoint(
	ctx context.Context,
	connectorID string,
) (*model.Checkpoint, error) {
	var (
		cp            model.Checkpoint
		polledThrough time.Time
		updatedAt     time.Time
	)

	err := s.db.QueryRowxContext(ctx, `
		SELECT connector_id, polled_through, updated_at
		FROM checkpoints WHERE connector_id = ?`, connectorID,
	).Scan(&cp.ConnectorID, &polledThrough, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting checkpoint for %s: %w", connectorID, ErrNotFound)
		}
		return nil, fmt.Errorf("getting checkpoint for %s: %w", connectorID, err)
	}

	cp.PolledThrough = polledThrough.UTC()
	cp.UpdatedAt = updatedAt.UTC()
	return &cp, nil
}

// SaveCheckpoint inserts or replaces the checkpoint for a connector.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (connector_id, polled_through, updated_at)
		VALUES (?, ?, ?)`,
		cp.ConnectorID, cp.PolledThrough.UTC(), cp.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint for %s: %w", cp.ConnectorID, err)
	}
	return nil
}

// RecordSyncRun stores the outcome of a single load or poll run.
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run model.SyncRun) error {
	var windowStart sql.NullTime
	if run.WindowStart != nil {
		windowStart = sql.NullTime{Time: run.WindowStart.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, connector_id, mode, window_start, window_end,
			batches, documents, status, error,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ConnectorID, string(run.Mode), windowStart, run.WindowEnd.UTC(),
		run.Batches, run.Documents, string(run.Status), run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording sync run %s: %w", run.ID, err)
	}
	return nil
}

// GetSyncRuns returns the most recent runs for a connector, newest first.
func (s *SQLiteStore) GetSyncRuns(
	ctx context.Context,
	connectorID string,
	limit int,
) ([]model.SyncRun, error) {
	query := `
		SELECT id, connector_id, mode, window_start, window_end,
			batches, documents, status, error,
			started_at, finished_at
		FROM sync_runs
		WHERE connector_id = ?
		ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, connectorID)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var (
			run         model.SyncRun
			mode        string
			status      string
			windowStart sql.NullTime
			windowEnd   time.Time
			startedAt   time.Time
			finishedAt  time.Time
		)
		err := rows.Scan(
			&run.ID, &run.ConnectorID, &mode, &windowStart, &windowEnd,
			&run.Batches, &run.Documents, &status, &run.Error,
			&startedAt, &finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sync run row: %w", err)
		}

		run.Mode = model.SyncMode(mode)
		run.Status = model.RunStatus(status)
		if windowStart.Valid {
			ws := windowStart.Time.UTC()
			run.WindowStart = &ws
		}
		run.WindowEnd = windowEnd.UTC()
		run.StartedAt = startedAt.UTC()
		run.FinishedAt = finishedAt.UTC()
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
