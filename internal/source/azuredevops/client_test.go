package azuredevops

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/azdo-connector/internal/source"
)

func wantAuthHeader(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_QueryByWiql(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contoso/_apis/wit/wiql", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("timePrecision"))
		assert.Equal(t, "7.1", r.URL.Query().Get("api-version"))
		assert.Equal(t, wantAuthHeader("pat-123"), r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body Wiql
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELECT [System.Id] FROM WorkItems", body.Query)

		writeJSON(t, w, map[string]any{
			"queryType":       "flat",
			"queryResultType": "workItem",
			"workItems": []map[string]any{
				{"id": 3, "url": "https://x/3"},
				{"id": 1, "url": "https://x/1"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/contoso/", "pat-123")
	result, err := c.QueryByWiql(context.Background(), Wiql{Query: "SELECT [System.Id] FROM WorkItems"})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, result.IDs())
}

func TestWorkItemQueryResult_IDs(t *testing.T) {
	var nilResult *WorkItemQueryResult
	assert.Equal(t, []int{}, nilResult.IDs())
	assert.Equal(t, []int{}, (&WorkItemQueryResult{}).IDs())
}

func TestClient_GetWorkItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/contoso/My Project/_apis/wit/workitems", r.URL.Path)
		assert.Equal(t, "5,2,9", r.URL.Query().Get("ids"))
		assert.Equal(t, "Fields", r.URL.Query().Get("$expand"))
		assert.Equal(t, wantAuthHeader("pat"), r.Header.Get("Authorization"))

		writeJSON(t, w, map[string]any{
			"count": 3,
			"value": []map[string]any{
				{"id": 5, "url": "https://x/5", "fields": map[string]any{"System.Title": "five"}},
				{"id": 2, "url": "https://x/2", "fields": map[string]any{"System.Title": "two"}},
				{"id": 9, "url": "https://x/9", "fields": map[string]any{
					"System.AssignedTo": map[string]any{"displayName": "Ana"},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/contoso", "pat")
	items, err := c.GetWorkItems(context.Background(), "My Project", []int{5, 2, 9}, ExpandFields)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 5, items[0].ID)
	assert.Equal(t, "five", items[0].Fields[FieldTitle])
	assert.Equal(t, "Ana", assigneeName(items[2].Fields[FieldAssignedTo]))
}

func TestClient_GetWorkItems_NoIDs(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL, "pat").GetWorkItems(context.Background(), "p", nil, ExpandFields)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClient_GetProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contoso/_apis/projects/Alpha", r.URL.Path)
		writeJSON(t, w, map[string]any{"id": "p-1", "name": "Alpha", "state": "wellFormed"})
	}))
	defer srv.Close()

	tp, err := NewClient(srv.URL+"/contoso", "pat").GetProject(context.Background(), "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", tp.Name)
	assert.Equal(t, "wellFormed", tp.State)
}

func TestClient_AuthFailures(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNonAuthoritativeInfo} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte("<html>Sign In</html>"))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "bad").QueryByWiql(context.Background(), Wiql{Query: "q"})
			require.Error(t, err)
			assert.True(t, source.IsAuthError(err))
		})
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"$id":"1","message":"TF51005: The query references a field that does not exist.","typeKey":"QueryException","errorCode":0}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "pat").QueryByWiql(context.Background(), Wiql{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TF51005")
	assert.Contains(t, err.Error(), "(400)")
	assert.False(t, source.IsAuthError(err))
}

func TestClient_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var body Wiql
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "q", body.Query, "body is resent on retry")
		writeJSON(t, w, map[string]any{"workItems": []map[string]any{{"id": 1}}})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL, "pat").QueryByWiql(context.Background(), Wiql{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, result.IDs())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "pat").GetProject(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestClient_NoRetryWhenDisabled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "pat", WithMaxRetries(0)).GetProject(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited (429)")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewClient_MaxRetries(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, NewClient("https://x", "pat").maxRetries)
	assert.Equal(t, 1, NewClient("https://x", "pat", WithMaxRetries(1)).maxRetries)
	assert.Equal(t, DefaultMaxRetries, NewClient("https://x", "pat", WithMaxRetries(-1)).maxRetries)

	c := NewConnector("contoso", "Alpha", 10, WithRateLimitRetries(0))
	_, err := c.LoadCredentials(map[string]any{CredentialKeyPAT: "secret"})
	require.NoError(t, err)
	client, ok := c.client.(*Client)
	require.True(t, ok)
	assert.Zero(t, client.maxRetries)
}

func TestConnector_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contoso/_apis/wit/wiql":
			var body Wiql
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Contains(t, body.Query, "[System.TeamProject]='Alpha'")
			writeJSON(t, w, map[string]any{"workItems": []map[string]any{
				{"id": 1}, {"id": 2}, {"id": 3},
			}})
		case "/contoso/Alpha/_apis/wit/workitems":
			batches := map[string][]int{"1,2": {1, 2}, "3": {3}}
			ids, ok := batches[r.URL.Query().Get("ids")]
			require.True(t, ok, "unexpected ids %q", r.URL.Query().Get("ids"))

			var value []map[string]any
			for _, id := range ids {
				value = append(value, map[string]any{
					"id":  id,
					"url": fmt.Sprintf("https://x/%d", id),
					"fields": map[string]any{
						"System.Title":       fmt.Sprintf("Item %d", id),
						"System.State":       "New",
						"System.ChangedDate": "2024-02-03T04:05:06.7Z",
					},
				})
			}
			writeJSON(t, w, map[string]any{"count": len(value), "value": value})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewConnector("contoso", "Alpha", 2, WithBaseURL(srv.URL+"/contoso"))
	_, err := c.LoadCredentials(map[string]any{CredentialKeyPAT: "pat"})
	require.NoError(t, err)

	batches, err := collect(t, c.LoadFromState(context.Background()))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "Item 3", batches[1][0].SemanticIdentifier)
	assert.Equal(t, map[string]any{"state": "New"}, batches[1][0].Metadata)
}
