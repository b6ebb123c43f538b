package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/azdo-connector/internal/model"
)

func TestObserveRun(t *testing.T) {
	m := New()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveRun(model.SyncRun{
		ConnectorID: "web",
		Mode:        model.SyncModeLoad,
		Status:      model.RunStatusSucceeded,
		Batches:     2,
		Documents:   30,
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Second),
	})
	m.ObserveRun(model.SyncRun{
		ConnectorID: "web",
		Mode:        model.SyncModePoll,
		Status:      model.RunStatusFailed,
		Documents:   4,
		Batches:     1,
		StartedAt:   started.Add(time.Minute),
		FinishedAt:  started.Add(time.Minute + time.Second),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("web", "load", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("web", "poll", "failed")))
	assert.Equal(t, 34.0, testutil.ToFloat64(m.documents.WithLabelValues("web")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.batches.WithLabelValues("web")))
	assert.Equal(t,
		float64(started.Add(3*time.Second).Unix()),
		testutil.ToFloat64(m.lastSuccess.WithLabelValues("web")),
		"failed runs do not move the last success time",
	)
	assert.Equal(t, 2, testutil.CollectAndCount(m.runDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun(model.SyncRun{
		ConnectorID: "web",
		Mode:        model.SyncModeLoad,
		Status:      model.RunStatusSucceeded,
		Documents:   1,
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `azdo_connector_documents_indexed_total{connector="web"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
