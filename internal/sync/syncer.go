package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source"
	"github.com/nhle/azdo-connector/internal/store"
)

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSink replaces the default StoreSink.
func WithSink(sink Sink) SyncerOption {
	return func(s *Syncer) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the syncer's logger.
func WithLogger(logger *zap.Logger) SyncerOption {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source for run timestamps and poll windows.
func WithClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// RunObserver is notified of every finished run.
type RunObserver interface {
	ObserveRun(run model.SyncRun)
}

// WithObserver reports finished runs to o, e.g. a metrics collector.
func WithObserver(o RunObserver) SyncerOption {
	return func(s *Syncer) {
		if o != nil {
			s.observer = o
		}
	}
}

// Syncer drives one authenticated connector, writing its batches to a sink
// and keeping run history and the poll checkpoint in the store.
type Syncer struct {
	connectorID string
	connector   source.Connector
	store       store.Store
	sink        Sink
	observer    RunObserver
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncer creates a Syncer. Batches go to the store unless WithSink is
// given.
func NewSyncer(
	connectorID string,
	conn source.Connector,
	s store.Store,
	opts ...SyncerOption,
) *Syncer {
	sy := &Syncer{
		connectorID: connectorID,
		connector:   conn,
		store:       s,
		sink:        NewStoreSink(s),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(sy)
	}
	sy.logger = sy.logger.With(zap.String("connector", connectorID))
	return sy
}

// ConnectorID returns the id of the connector being synced.
func (s *Syncer) ConnectorID() string {
	return s.connectorID
}

// RunLoad performs a full load. On success the checkpoint moves to the
// time the load started, so changes made during the load are picked up by
// the next poll.
func (s *Syncer) RunLoad(ctx context.Context) (model.SyncRun, error) {
	started := s.now().UTC()
	run := s.newRun(model.SyncModeLoad, nil, started)

	err := s.consume(ctx, s.connector.LoadFromState(ctx), &run)
	return s.finish(ctx, run, err, started)
}

// RunPoll retrieves documents changed in [start, end]. On success the
// checkpoint moves to end unless it is already later.
func (s *Syncer) RunPoll(ctx context.Context, start, end time.Time) (model.SyncRun, error) {
	if end.Before(start) {
		return model.SyncRun{}, fmt.Errorf("poll window end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	start, end = start.UTC(), end.UTC()
	run := s.newRun(model.SyncModePoll, &start, end)

	batches := s.connector.PollSource(ctx, toEpoch(start), toEpoch(end))
	err := s.consume(ctx, batches, &run)
	return s.finish(ctx, run, err, end)
}

// RunIncremental polls from the stored checkpoint up to now, or performs a
// full load when the connector has never completed a run.
func (s *Syncer) RunIncremental(ctx context.Context) (model.SyncRun, error) {
	cp, err := s.store.GetCheckpoint(ctx, s.connectorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("no checkpoint, running full load")
			return s.RunLoad(ctx)
		}
		return model.SyncRun{}, fmt.Errorf("reading checkpoint: %w", err)
	}

	return s.RunPoll(ctx, cp.PolledThrough, s.now())
}

func (s *Syncer) newRun(mode model.SyncMode, start *time.Time, end time.Time) model.SyncRun {
	return model.SyncRun{
		ID:          uuid.New().String(),
		ConnectorID: s.connectorID,
		Mode:        mode,
		WindowStart: start,
		WindowEnd:   end,
		StartedAt:   s.now().UTC(),
	}
}

// consume drains batches into the sink, counting into run.
func (s *Syncer) consume(ctx context.Context, batches source.DocumentBatches, run *model.SyncRun) error {
	for docs, err := range batches {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sink.WriteBatch(ctx, s.connectorID, docs); err != nil {
			return fmt.Errorf("writing batch %d: %w", run.Batches, err)
		}
		run.Batches++
		run.Documents += len(docs)

		s.logger.Debug("batch written",
			zap.Int("batch", run.Batches),
			zap.Int("documents", len(docs)),
		)
	}
	return nil
}

// finish records the run and, when it succeeded, advances the checkpoint
// to polledThrough.
func (s *Syncer) finish(
	ctx context.Context,
	run model.SyncRun,
	runErr error,
	polledThrough time.Time,
) (model.SyncRun, error) {
	run.FinishedAt = s.now().UTC()
	run.Status = model.RunStatusSucceeded
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}

	// The run is recorded even when the caller's context is done.
	recordCtx := context.WithoutCancel(ctx)
	if err := s.store.RecordSyncRun(recordCtx, run); err != nil {
		s.logger.Warn("failed to record sync run", zap.String("run_id", run.ID), zap.Error(err))
	}
	if s.observer != nil {
		s.observer.ObserveRun(run)
	}

	if runErr != nil {
		s.logger.Error("sync run failed",
			zap.String("mode", string(run.Mode)),
			zap.Int("documents", run.Documents),
			zap.Error(runErr),
		)
		return run, runErr
	}

	if err := s.advanceCheckpoint(recordCtx, polledThrough); err != nil {
		return run, err
	}

	s.logger.Info("sync run finished",
		zap.String("mode", string(run.Mode)),
		zap.Int("batches", run.Batches),
		zap.Int("documents", run.Documents),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (s *Syncer) advanceCheckpoint(ctx context.Context, polledThrough time.Time) error {
	cp, err := s.store.GetCheckpoint(ctx, s.connectorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("reading checkpoint: %w", err)
	case !polledThrough.After(cp.PolledThrough):
		return nil
	}

	err = s.store.SaveCheckpoint(ctx, model.Checkpoint{
		ConnectorID:   s.connectorID,
		PolledThrough: polledThrough.UTC(),
		UpdatedAt:     s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// toEpoch converts t to fractional epoch seconds at microsecond precision.
func toEpoch(t time.Time) source.SecondsSinceUnixEpoch {
	return source.SecondsSinceUnixEpoch(float64(t.UnixMicro()) / 1e6)
}
