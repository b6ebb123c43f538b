package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/azdo-connector/internal/credential"
	"github.com/nhle/azdo-connector/internal/logging"
	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source/azuredevops"
	appsync "github.com/nhle/azdo-connector/internal/sync"
)

// selectedConnectors returns the connector picked with --connector, or
// every enabled connector when none was given.
func (a *App) selectedConnectors() ([]model.ConnectorConfig, error) {
	if a.connectorID != "" {
		cc, err := a.cfg.Connector(a.connectorID)
		if err != nil {
			return nil, err
		}
		return []model.ConnectorConfig{cc}, nil
	}

	var enabled []model.ConnectorConfig
	for _, cc := range a.cfg.Connectors {
		if cc.Enabled {
			enabled = append(enabled, cc)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no enabled connectors configured; run 'azdo-connector configure'")
	}
	return enabled, nil
}

// connectorFor builds an authenticated connector from a configuration
// entry, loading the PAT from the environment or the keyring.
func (a *App) connectorFor(cc model.ConnectorConfig) (*azuredevops.Connector, error) {
	creds, err := a.openCredentials()
	if err != nil {
		return nil, err
	}

	opts := []azuredevops.Option{
		azuredevops.WithLogger(logging.ForConnector(a.logger, cc.ID)),
		azuredevops.WithBaseURL(cc.BaseURL),
		azuredevops.WithRateLimitRetries(cc.MaxRetries),
	}
	if a.clientFactory != nil {
		opts = append(opts, azuredevops.WithClientFactory(a.clientFactory))
	}
	conn := azuredevops.NewConnector(cc.Organization, cc.Project, cc.BatchSize, opts...)

	bundle, err := creds.Bundle(cc.ID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials for %s: %w", cc.ID, err)
	}
	if _, err := conn.LoadCredentials(bundle); err != nil {
		return nil, fmt.Errorf(
			"connector %s: %w (run 'azdo-connector configure' or set %s)",
			cc.ID, err, credential.EnvPAT,
		)
	}

	return conn, nil
}

// syncerFor builds a syncer writing to the store and any extra sinks.
func (a *App) syncerFor(cc model.ConnectorConfig, extra ...appsync.Sink) (*appsync.Syncer, error) {
	conn, err := a.connectorFor(cc)
	if err != nil {
		return nil, err
	}
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}

	sink := appsync.Sink(appsync.NewStoreSink(s))
	if len(extra) > 0 {
		sink = append(appsync.MultiSink{sink}, extra...)
	}

	opts := []appsync.SyncerOption{
		appsync.WithSink(sink),
		appsync.WithLogger(a.logger),
		appsync.WithClock(a.now),
	}
	if a.metrics != nil {
		opts = append(opts, appsync.WithObserver(a.metrics))
	}
	return appsync.NewSyncer(cc.ID, conn, s, opts...), nil
}

// runEach runs fn for every selected connector, continuing past failures
// and returning the first error.
func (a *App) runEach(
	ctx context.Context,
	fn func(ctx context.Context, cc model.ConnectorConfig) error,
) error {
	ccs, err := a.selectedConnectors()
	if err != nil {
		return err
	}

	var firstErr error
	for _, cc := range ccs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, cc); err != nil {
			a.logger.Error("connector failed", zap.String("connector", cc.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func pollInterval(cc model.ConnectorConfig) time.Duration {
	return time.Duration(cc.PollIntervalSec) * time.Second
}
