package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/azdo-connector/internal/model"
)

const documentColumns = `
	id, source, semantic_identifier,
	sections, primary_owners, metadata,
	doc_updated_at`

// UpsertDocuments inserts or replaces a batch of documents for a connector.
func (s *SQLiteStore) UpsertDocuments(
	ctx context.Context,
	connectorID string,
	docs []model.Document,
) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO documents (
			connector_id, id, source, semantic_identifier,
			sections, primary_owners, metadata,
			doc_updated_at, indexed_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?,
			?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	indexedAt := time.Now().UTC()
	for _, d := range docs {
		sections, err := json.Marshal(d.Sections)
		if err != nil {
			return fmt.Errorf("marshaling sections for document %s: %w", d.ID, err)
		}
		owners, err := json.Marshal(d.PrimaryOwners)
		if err != nil {
			return fmt.Errorf("marshaling owners for document %s: %w", d.ID, err)
		}
		metadata, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for document %s: %w", d.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			connectorID, d.ID, string(d.Source), d.SemanticIdentifier,
			string(sections), string(owners), string(metadata),
			d.DocUpdatedAt.UTC(), indexedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting document %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

// GetDocuments retrieves documents matching the provided filter, ordered
// by last update.
func (s *SQLiteStore) GetDocuments(
	ctx context.Context,
	filter DocumentFilter,
) ([]model.Document, error) {
	var conditions []string
	var args []interface{}

	if filter.ConnectorID != "" {
		conditions = append(conditions, "connector_id = ?")
		args = append(args, filter.ConnectorID)
	}
	if filter.UpdatedSince != nil {
		conditions = append(conditions, "doc_updated_at >= ?")
		args = append(args, filter.UpdatedSince.UTC())
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, "(semantic_identifier LIKE ? OR sections LIKE ?)")
		q := "%" + *filter.Query + "%"
		args = append(args, q, q)
	}

	query := "SELECT " + documentColumns + " FROM documents"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY doc_updated_at %s, id %s", direction, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// GetDocumentByID retrieves a single document.
func (s *SQLiteStore) GetDocumentByID(
	ctx context.Context,
	connectorID string,
	id string,
) (*model.Document, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE connector_id = ? AND id = ?",
		connectorID, id,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting document %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}

	return &doc, nil
}

// CountDocuments returns how many documents are stored for a connector.
func (s *SQLiteStore) CountDocuments(
	ctx context.Context,
	connectorID string,
) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM documents WHERE connector_id = ?", connectorID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sqlx.Rows and *sqlx.Row.
type scanner interface {
	Scan(dest ...interface{}) error
}

var (
	_ scanner = (*sqlx.Rows)(nil)
	_ scanner = (*sqlx.Row)(nil)
)

// scanDocument scans a row selected with documentColumns.
func scanDocument(row scanner) (model.Document, error) {
	var (
		doc       model.Document
		source    string
		sections  string
		owners    string
		metadata  string
		updatedAt time.Time
	)

	err := row.Scan(
		&doc.ID, &source, &doc.SemanticIdentifier,
		&sections, &owners, &metadata,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Document{}, err
		}
		return model.Document{}, fmt.Errorf("scanning document row: %w", err)
	}

	doc.Source = model.DocumentSource(source)
	doc.DocUpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal([]byte(sections), &doc.Sections); err != nil {
		return model.Document{}, fmt.Errorf("unmarshaling sections: %w", err)
	}
	if err := json.Unmarshal([]byte(owners), &doc.PrimaryOwners); err != nil {
		return model.Document{}, fmt.Errorf("unmarshaling owners: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
		return model.Document{}, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	return doc, nil
}
