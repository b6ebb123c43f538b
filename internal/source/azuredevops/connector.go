package azuredevops

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source"
)

// CredentialKeyPAT is the credential bundle key holding the personal
// access token.
const CredentialKeyPAT = "azure_devops_pat"

const (
	// DefaultBatchSize is used when a non-positive batch size is given.
	DefaultBatchSize = model.DefaultBatchSize

	// MaxBatchSize is the most IDs the work items endpoint accepts.
	MaxBatchSize = 200

	// DefaultMaxRetries is how often a client resends a request answered
	// with HTTP 429.
	DefaultMaxRetries = model.DefaultMaxRetries
)

// defaultBaseURL is the organization URL on Azure DevOps Services.
const defaultBaseURL = "https://dev.azure.com/"

// Option configures a Connector.
type Option func(*Connector)

// WithBaseURL overrides the organization URL, e.g. for an Azure DevOps
// Server collection.
func WithBaseURL(baseURL string) Option {
	return func(c *Connector) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithClientFactory replaces the function that builds the API client
// during LoadCredentials.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Connector) {
		if f != nil {
			c.newClient = f
		}
	}
}

// WithRateLimitRetries sets how many times the default client retries a
// rate-limited request. Zero disables retrying.
func WithRateLimitRetries(n int) Option {
	return func(c *Connector) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the connector's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source used when a work item has no usable
// changed date.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		if now != nil {
			c.now = now
		}
	}
}

// Connector implements source.Connector for the work items of one Azure
// DevOps project.
type Connector struct {
	organization string
	project      string
	batchSize    int
	baseURL      string
	maxRetries   int

	client    WorkItemTracker
	newClient ClientFactory
	logger    *zap.Logger
	now       func() time.Time
}

var _ source.Connector = (*Connector)(nil)

// NewConnector creates an unauthenticated connector. Call LoadCredentials
// before retrieving documents.
func NewConnector(
	organization string,
	project string,
	batchSize int,
	opts ...Option,
) *Connector {
	c := &Connector{
		organization: organization,
		project:      project,
		batchSize:    batchSize,
		baseURL:      defaultBaseURL + organization,
		maxRetries:   DefaultMaxRetries,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	c.newClient = func(baseURL, token string) WorkItemTracker {
		return NewClient(baseURL, token, WithMaxRetries(c.maxRetries))
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(
		zap.String("organization", organization),
		zap.String("project", project),
	)

	switch {
	case c.batchSize < 1:
		c.batchSize = DefaultBatchSize
	case c.batchSize > MaxBatchSize:
		c.logger.Warn("batch size exceeds API limit, clamping",
			zap.Int("requested", c.batchSize),
			zap.Int("limit", MaxBatchSize),
		)
		c.batchSize = MaxBatchSize
	}

	return c
}

// Type returns the source type identifier for Azure DevOps.
func (c *Connector) Type() source.SourceType {
	return source.SourceTypeAzureDevOps
}

// BatchSize returns the effective number of work items per batch.
func (c *Connector) BatchSize() int {
	return c.batchSize
}

// LoadCredentials authenticates with the personal access token stored
// under CredentialKeyPAT. Nothing needs to be persisted back, so the
// returned map is always nil.
func (c *Connector) LoadCredentials(
	credentials map[string]any,
) (map[string]any, error) {
	pat, ok := credentials[CredentialKeyPAT].(string)
	if !ok || pat == "" {
		return nil, &source.MissingCredentialError{
			Message: "Azure DevOps PAT missing or invalid",
		}
	}

	c.client = c.newClient(c.baseURL, pat)
	c.logger.Debug("loaded credentials", zap.String("base_url", c.baseURL))
	return nil, nil
}

// ValidateConnection verifies credentials by fetching the configured
// project. Returns the project's name on success.
func (c *Connector) ValidateConnection(ctx context.Context) (string, error) {
	if c.client == nil {
		return "", &source.MissingCredentialError{Message: "Azure DevOps"}
	}
	tp, err := c.client.GetProject(ctx, c.project)
	if err != nil {
		return "", fmt.Errorf("validating Azure DevOps connection: %w", err)
	}
	return tp.Name, nil
}

// LoadFromState yields every work item of the project.
func (c *Connector) LoadFromState(ctx context.Context) source.DocumentBatches {
	return c.fetchWorkItems(ctx, nil, nil)
}

// PollSource yields work items whose changed date lies in [start, end].
func (c *Connector) PollSource(
	ctx context.Context,
	start source.SecondsSinceUnixEpoch,
	end source.SecondsSinceUnixEpoch,
) source.DocumentBatches {
	startTime := epochToUTC(start)
	endTime := epochToUTC(end)
	return c.fetchWorkItems(ctx, &startTime, &endTime)
}

// fetchWorkItems runs the WIQL query and yields documents one batch at a
// time. Nothing is fetched until the consumer starts ranging.
func (c *Connector) fetchWorkItems(
	ctx context.Context,
	start *time.Time,
	end *time.Time,
) source.DocumentBatches {
	return func(yield func([]model.Document, error) bool) {
		if c.client == nil {
			yield(nil, &source.MissingCredentialError{Message: "Azure DevOps"})
			return
		}

		query := buildWIQL(c.project, start, end)
		c.logger.Debug("running work item query", zap.String("wiql", query))

		result, err := c.client.QueryByWiql(ctx, Wiql{Query: query})
		if err != nil {
			yield(nil, fmt.Errorf("querying work items: %w", err))
			return
		}

		ids := result.IDs()
		c.logger.Info("work item query matched", zap.Int("count", len(ids)))

		batchNum := 0
		for batchIDs := range slices.Chunk(ids, c.batchSize) {
			batchNum++
			items, err := c.client.GetWorkItems(ctx, c.project, batchIDs, ExpandFields)
			if err != nil {
				yield(nil, fmt.Errorf(
					"fetching work items batch %d: %w", batchNum, err,
				))
				return
			}

			docs := make([]model.Document, 0, len(items))
			for _, item := range items {
				docs = append(docs, workItemToDocument(item, c.now))
			}

			c.logger.Debug("fetched work item batch",
				zap.Int("batch", batchNum),
				zap.Int("count", len(docs)),
			)

			if len(docs) == 0 {
				continue
			}
			if !yield(docs, nil) {
				return
			}
		}
	}
}

// epochToUTC converts fractional epoch seconds to a UTC time with
// microsecond precision.
func epochToUTC(s source.SecondsSinceUnixEpoch) time.Time {
	micros := int64(float64(s)*1e6 + 0.5)
	if s < 0 {
		micros = int64(float64(s)*1e6 - 0.5)
	}
	return time.UnixMicro(micros).UTC()
}
