package sync

import (
	"context"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source"
)

// SyncState represents the current state of a connector's sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus holds the sync state for a single connector.
type SyncStatus struct {
	ConnectorID string
	State       SyncState
	LastSync    time.Time
	LastRun     *model.SyncRun
	Error       error
}

// SyncResult is published after every run.
type SyncResult struct {
	ConnectorID string
	Run         model.SyncRun
	Error       error

	// AuthFailed is set when the source rejected the credentials. The
	// poller keeps running; the next tick retries.
	AuthFailed bool
}

// DefaultPollInterval is used when a connector is registered without one.
const DefaultPollInterval = time.Duration(model.DefaultPollIntervalSec) * time.Second

type pollEntry struct {
	syncer   *Syncer
	interval time.Duration
	trigger  chan struct{}
}

// Poller runs incremental syncs for registered connectors in the
// background, one goroutine per connector.
type Poller struct {
	entries  []*pollEntry
	statuses map[string]*SyncStatus
	resultCh chan SyncResult
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	running  bool
	logger   *zap.Logger
}

// NewPoller creates an empty Poller.
func NewPoller(logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		statuses: make(map[string]*SyncStatus),
		resultCh: make(chan SyncResult, 16),
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Register adds a syncer polled every interval. Registering after Start
// has no effect.
func (p *Poller) Register(s *Syncer, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn("poller already started, ignoring registration",
			zap.String("connector", s.ConnectorID()))
		return
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p.entries = append(p.entries, &pollEntry{
		syncer:   s,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	})
	p.statuses[s.ConnectorID()] = &SyncStatus{
		ConnectorID: s.ConnectorID(),
		State:       SyncIdle,
	}
}

// Start launches one polling goroutine per registered connector. Each runs
// immediately and then on its interval until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	for _, entry := range p.entries {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.pollConnector(ctx, entry)
		}()
	}
}

// Stop halts all polling goroutines and waits for in-flight runs to return.
// A stopped Poller cannot be restarted.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Results delivers run outcomes. Results are dropped when nobody reads.
func (p *Poller) Results() <-chan SyncResult {
	return p.resultCh
}

// Trigger requests an immediate run of one connector. It reports whether
// the connector is registered.
func (p *Poller) Trigger(connectorID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.entries {
		if entry.syncer.ConnectorID() == connectorID {
			select {
			case entry.trigger <- struct{}{}:
			default:
				// A run is already pending.
			}
			return true
		}
	}
	return false
}

// TriggerAll requests an immediate run of every connector.
func (p *Poller) TriggerAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for _, entry := range p.entries {
		ids = append(ids, entry.syncer.ConnectorID())
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Trigger(id)
	}
}

// Statuses returns the current sync status of every connector, ordered by
// connector id.
func (p *Poller) Statuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	slices.SortFunc(statuses, func(a, b SyncStatus) int {
		return strings.Compare(a.ConnectorID, b.ConnectorID)
	})
	return statuses
}

func (p *Poller) pollConnector(ctx context.Context, entry *pollEntry) {
	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()

	p.runOnce(ctx, entry.syncer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runOnce(ctx, entry.syncer)
		case <-entry.trigger:
			p.runOnce(ctx, entry.syncer)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context, s *Syncer) {
	id := s.ConnectorID()
	p.setStatus(id, SyncRunning, nil, nil)

	run, err := s.RunIncremental(ctx)
	if err != nil {
		p.setStatus(id, SyncError, &run, err)
		p.sendResult(SyncResult{
			ConnectorID: id,
			Run:         run,
			Error:       err,
			AuthFailed:  source.IsAuthError(err),
		})
		return
	}

	p.setStatus(id, SyncIdle, &run, nil)
	p.sendResult(SyncResult{ConnectorID: id, Run: run})
}

func (p *Poller) setStatus(id string, state SyncState, run *model.SyncRun, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[id]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if run != nil && run.ID != "" {
		status.LastRun = run
	}
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}

// sendResult publishes without blocking the polling loop.
func (p *Poller) sendResult(res SyncResult) {
	select {
	case p.resultCh <- res:
	default:
	}
}
