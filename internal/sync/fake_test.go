package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source"
)

type pollCall struct {
	start source.SecondsSinceUnixEpoch
	end   source.SecondsSinceUnixEpoch
}

// fakeConnector yields the configured batches, then err if set.
type fakeConnector struct {
	mu      gosync.Mutex
	batches [][]model.Document
	err     error
	loads   int
	polls   []pollCall
}

var _ source.Connector = (*fakeConnector)(nil)

func (f *fakeConnector) LoadCredentials(map[string]any) (map[string]any, error) {
	return nil, nil
}

func (f *fakeConnector) Type() source.SourceType { return source.SourceTypeAzureDevOps }

func (f *fakeConnector) ValidateConnection(context.Context) (string, error) {
	return "fake", nil
}

func (f *fakeConnector) LoadFromState(ctx context.Context) source.DocumentBatches {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	return f.yield()
}

func (f *fakeConnector) PollSource(
	ctx context.Context,
	start source.SecondsSinceUnixEpoch,
	end source.SecondsSinceUnixEpoch,
) source.DocumentBatches {
	f.mu.Lock()
	f.polls = append(f.polls, pollCall{start: start, end: end})
	f.mu.Unlock()
	return f.yield()
}

func (f *fakeConnector) yield() source.DocumentBatches {
	return func(yield func([]model.Document, error) bool) {
		for _, b := range f.batches {
			if !yield(b, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *fakeConnector) counts() (loads, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, len(f.polls)
}

func docs(ids ...int) []model.Document {
	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Document{
			ID:                 fmt.Sprint(id),
			Source:             model.DocumentSourceAzureDevOps,
			SemanticIdentifier: fmt.Sprintf("Item %d", id),
			Sections:           []model.TextSection{{Link: "https://example.test", Text: "text"}},
			DocUpdatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			PrimaryOwners:      []model.ExpertInfo{},
			Metadata:           map[string]any{"state": "New"},
		})
	}
	return out
}

// recordingSink keeps every batch it receives.
type recordingSink struct {
	mu      gosync.Mutex
	batches [][]model.Document
	err     error
}

func (r *recordingSink) WriteBatch(_ context.Context, _ string, d []model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, d)
	return nil
}

var errBoom = errors.New("boom")
