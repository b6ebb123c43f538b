package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/azdo-connector/internal/source"
)

// apiVersion is the REST API version sent with every request.
const apiVersion = "7.1"

// WorkItemTracker is the subset of the work item tracking API used by the
// connector.
type WorkItemTracker interface {
	// QueryByWiql runs a WIQL query and returns the matched references in
	// query order.
	QueryByWiql(ctx context.Context, wiql Wiql) (*WorkItemQueryResult, error)

	// GetWorkItems returns full records for ids, in the same order.
	GetWorkItems(
		ctx context.Context,
		project string,
		ids []int,
		expand string,
	) ([]WorkItem, error)

	// GetProject returns the team project with the given name or ID.
	GetProject(ctx context.Context, project string) (*TeamProject, error)
}

// ClientFactory builds an authenticated WorkItemTracker for a base URL and
// personal access token.
type ClientFactory func(baseURL, token string) WorkItemTracker

// Client is a thin HTTP client for the Azure DevOps REST API.
// It handles Basic authentication with a personal access token, JSON
// marshaling, and retry with exponential backoff on HTTP 429 (see
// WithMaxRetries).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// maxRetries is how many times a request answered with 429 is resent.
	// Zero disables retrying; the first 429 is then returned as an error.
	maxRetries int
}

var _ WorkItemTracker = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxRetries sets how many times a rate-limited request is retried.
// Zero disables retrying.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a new Azure DevOps HTTP client. The baseURL should be
// the organization URL (e.g., https://dev.azure.com/contoso).
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryByWiql posts a WIQL query. Time precision is enabled so that
// date bounds with a time-of-day component are accepted.
func (c *Client) QueryByWiql(
	ctx context.Context,
	wiql Wiql,
) (*WorkItemQueryResult, error) {
	params := url.Values{}
	params.Set("timePrecision", "true")
	params.Set("api-version", apiVersion)

	var result WorkItemQueryResult
	if err := c.do(ctx, http.MethodPost, "/_apis/wit/wiql?"+params.Encode(), wiql, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetWorkItems fetches up to 200 work items by ID, scoped to project.
func (c *Client) GetWorkItems(
	ctx context.Context,
	project string,
	ids []int,
	expand string,
) ([]WorkItem, error) {
	if len(ids) == 0 {
		return []WorkItem{}, nil
	}

	idStrs := make([]string, 0, len(ids))
	for _, id := range ids {
		idStrs = append(idStrs, strconv.Itoa(id))
	}

	params := url.Values{}
	params.Set("ids", strings.Join(idStrs, ","))
	if expand != "" {
		params.Set("$expand", expand)
	}
	params.Set("api-version", apiVersion)

	path := "/_apis/wit/workitems?" + params.Encode()
	if project != "" {
		path = "/" + url.PathEscape(project) + path
	}

	var list WorkItemList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Value, nil
}

// GetProject fetches a team project by name or ID.
func (c *Client) GetProject(
	ctx context.Context,
	project string,
) (*TeamProject, error) {
	path := fmt.Sprintf(
		"/_apis/projects/%s?api-version=%s",
		url.PathEscape(project), apiVersion,
	)

	var tp TeamProject
	if err := c.do(ctx, http.MethodGet, path, nil, &tp); err != nil {
		return nil, err
	}
	return &tp, nil
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with exponential backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(
			ctx, method, url, bodyReader,
		)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Basic "+basicAuth(c.token))
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf(
				"rate limited (429) on %s %s", method, path,
			)
			if attempt == c.maxRetries {
				break
			}
			waitDuration := retryAfterDuration(resp, attempt)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		// An invalid PAT is answered with a 203 sign-in page rather than
		// a 401.
		if resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusNonAuthoritativeInfo {
			return &source.AuthError{
				SourceType: source.SourceTypeAzureDevOps,
				Message: fmt.Sprintf(
					"authentication failed (%d): check your "+
						"Personal Access Token for %s",
					resp.StatusCode, c.baseURL,
				),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr ErrorResponse
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
				return fmt.Errorf(
					"azure devops API error (%d) on %s %s: %s",
					resp.StatusCode, method, path, apiErr.Message,
				)
			}
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody),
			)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf(
				"unmarshaling response from %s %s: %w",
				method, path, err,
			)
		}

		return nil
	}

	return fmt.Errorf(
		"max retries (%d) exceeded: %w", c.maxRetries, lastErr,
	)
}

// basicAuth encodes a PAT as Basic credentials with an empty user name.
func basicAuth(token string) string {
	return base64.StdEncoding.EncodeToString([]byte(":" + token))
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
