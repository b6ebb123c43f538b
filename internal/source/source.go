package source

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/nhle/azdo-connector/internal/model"
)

// AuthError indicates that authentication has failed or expired for a source.
// It is returned by source clients when a 401 response is received.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// MissingCredentialError is returned when a connector is used without a
// usable credential, either because the bundle passed to LoadCredentials
// lacks one or because retrieval was attempted before authentication.
type MissingCredentialError struct {
	Message string
}

func (e *MissingCredentialError) Error() string {
	return "missing credential: " + e.Message
}

// IsMissingCredential reports whether err (or any error in its chain) is a
// MissingCredentialError.
func IsMissingCredential(err error) bool {
	var credErr *MissingCredentialError
	return errors.As(err, &credErr)
}

// SourceType identifies the kind of external source integration.
type SourceType string

const (
	SourceTypeAzureDevOps SourceType = "azure_devops"
)

// SecondsSinceUnixEpoch is a point in time expressed as (possibly
// fractional) seconds since 1970-01-01T00:00:00Z.
type SecondsSinceUnixEpoch float64

// DocumentBatches is a lazy sequence of document batches. Each step either
// carries a non-empty batch or a terminal error. The producer fetches the
// next batch only when the consumer asks for it.
type DocumentBatches = iter.Seq2[[]model.Document, error]

// CredentialsConnector accepts a credential bundle.
type CredentialsConnector interface {
	// LoadCredentials authenticates the connector. It returns any
	// credential state that should be persisted back, or nil.
	LoadCredentials(credentials map[string]any) (map[string]any, error)
}

// LoadConnector performs a full scan of its source.
type LoadConnector interface {
	LoadFromState(ctx context.Context) DocumentBatches
}

// PollConnector retrieves documents changed inside a time window.
type PollConnector interface {
	// PollSource yields documents changed between start and end, both
	// inclusive.
	PollSource(
		ctx context.Context,
		start SecondsSinceUnixEpoch,
		end SecondsSinceUnixEpoch,
	) DocumentBatches
}

// Connector is the full capability set driven by the sync engine.
type Connector interface {
	CredentialsConnector
	LoadConnector
	PollConnector

	// Type returns the source type identifier.
	Type() SourceType

	// ValidateConnection verifies credentials and connectivity.
	// Returns a human-readable status message on success.
	ValidateConnection(ctx context.Context) (string, error)
}
