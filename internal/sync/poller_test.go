package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source"
	"github.com/nhle/azdo-connector/internal/testutil"
)

func waitResult(t *testing.T, p *Poller) SyncResult {
	t.Helper()
	select {
	case res := <-p.Results():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync result")
		return SyncResult{}
	}
}

func TestPoller_InitialRunAndTrigger(t *testing.T) {
	s := testutil.NewTestStore(t)
	conn := &fakeConnector{batches: [][]model.Document{docs(1, 2)}}
	sy := NewSyncer("web", conn, s, WithLogger(zaptest.NewLogger(t)))

	p := NewPoller(zaptest.NewLogger(t))
	p.Register(sy, time.Hour)
	p.Start(context.Background())
	defer p.Stop()

	first := waitResult(t, p)
	require.NoError(t, first.Error)
	assert.Equal(t, "web", first.ConnectorID)
	assert.Equal(t, model.SyncModeLoad, first.Run.Mode)

	assert.True(t, p.Trigger("web"))
	assert.False(t, p.Trigger("unknown"))

	second := waitResult(t, p)
	require.NoError(t, second.Error)
	assert.Equal(t, model.SyncModePoll, second.Run.Mode)

	loads, polls := conn.counts()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, polls)

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, SyncIdle, statuses[0].State)
	assert.False(t, statuses[0].LastSync.IsZero())
	require.NotNil(t, statuses[0].LastRun)
	assert.Equal(t, second.Run.ID, statuses[0].LastRun.ID)
}

func TestPoller_ReportsErrors(t *testing.T) {
	s := testutil.NewTestStore(t)
	authErr := &source.AuthError{SourceType: source.SourceTypeAzureDevOps, Message: "expired"}
	conn := &fakeConnector{err: authErr}

	p := NewPoller(nil)
	p.Register(NewSyncer("web", conn, s), time.Hour)
	p.Start(context.Background())
	defer p.Stop()

	res := waitResult(t, p)
	require.Error(t, res.Error)
	assert.True(t, res.AuthFailed)

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, SyncError, statuses[0].State)
	assert.ErrorIs(t, statuses[0].Error, authErr)
}

func TestPoller_StatusesSorted(t *testing.T) {
	s := testutil.NewTestStore(t)
	p := NewPoller(nil)
	p.Register(NewSyncer("zeta", &fakeConnector{}, s), 0)
	p.Register(NewSyncer("alpha", &fakeConnector{}, s), 0)

	statuses := p.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].ConnectorID)
	assert.Equal(t, "zeta", statuses[1].ConnectorID)
	assert.Equal(t, SyncIdle, statuses[0].State)
}

func TestPoller_StopsWithContext(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPoller(nil)
	p.Register(NewSyncer("web", &fakeConnector{}, s), time.Hour)
	p.Start(ctx)
	waitResult(t, p)

	cancel()
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	// Stop is idempotent.
	p.Stop()
}

func TestSyncState_String(t *testing.T) {
	assert.Equal(t, "idle", SyncIdle.String())
	assert.Equal(t, "running", SyncRunning.String())
	assert.Equal(t, "error", SyncError.String())
	assert.Equal(t, "unknown", SyncState(9).String())
}
