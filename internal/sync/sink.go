package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	gosync "sync"

	gojson "github.com/goccy/go-json"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/store"
)

// Sink receives the document batches produced by a connector.
type Sink interface {
	WriteBatch(ctx context.Context, connectorID string, docs []model.Document) error
}

// StoreSink persists batches to the local document store.
type StoreSink struct {
	store store.Store
}

// NewStoreSink creates a sink that upserts into s.
func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) WriteBatch(ctx context.Context, connectorID string, docs []model.Document) error {
	if err := s.store.UpsertDocuments(ctx, connectorID, docs); err != nil {
		return fmt.Errorf("storing batch: %w", err)
	}
	return nil
}

// JSONLSink writes each document as one JSON object per line.
type JSONLSink struct {
	mu  gosync.Mutex
	enc *gojson.Encoder
}

// NewJSONLSink creates a sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: gojson.NewEncoder(w)}
}

func (s *JSONLSink) WriteBatch(_ context.Context, _ string, docs []model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range docs {
		if err := s.enc.Encode(d); err != nil {
			return fmt.Errorf("encoding document %s: %w", d.ID, err)
		}
	}
	return nil
}

// MultiSink fans a batch out to every sink in order. All sinks are
// attempted; their errors are joined.
type MultiSink []Sink

func (m MultiSink) WriteBatch(ctx context.Context, connectorID string, docs []model.Document) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteBatch(ctx, connectorID, docs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
