package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/testutil"
)

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	require.NoError(t, NewStoreSink(s).WriteBatch(ctx, "web", docs(1, 2)))

	n, err := s.CountDocuments(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJSONLSink(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewJSONLSink(&buf).WriteBatch(context.Background(), "web", docs(7, 8)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got model.Document
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, "Item 7", got.SemanticIdentifier)
	assert.Contains(t, lines[1], `"semantic_identifier":"Item 8"`)
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errBoom}
	after := &recordingSink{}

	err := MultiSink{ok, failing, after}.WriteBatch(context.Background(), "web", docs(1))

	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, ok.batches, 1)
	assert.Len(t, after.batches, 1, "later sinks still receive the batch")
}
