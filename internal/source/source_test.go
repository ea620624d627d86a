package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func TestItemQueryValidate(t *testing.T) {
	t.Parallel()

	valid := ItemQuery{CategoryID: "101", Page: 1, Hits: 30}
	require.NoError(t, valid.Validate())

	tests := map[string]ItemQuery{
		"hits zero":         {CategoryID: "101", Page: 1, Hits: 0},
		"hits too large":    {CategoryID: "101", Page: 1, Hits: 31},
		"page zero":         {CategoryID: "101", Page: 0, Hits: 10},
		"code and keyword":  {ItemCode: "shop:1", Keyword: "shoes", Page: 1, Hits: 1},
		"product and code":  {ItemCode: "shop:1", ProductID: "E1", Page: 1, Hits: 1},
		"product & keyword": {ProductID: "E1", Keyword: "shirt", Page: 1, Hits: 1},
		"no selector":       {Page: 1, Hits: 1},
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := q.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestRemoteIDAcceptsNumbersAndStrings(t *testing.T) {
	t.Parallel()

	var node CategoryNode
	err := json.Unmarshal([]byte(`{"current":{"id":100,"name":"Books","level":0},"children":[{"id":"101","name":"Fiction","level":1}]}`), &node)
	require.NoError(t, err)
	assert.Equal(t, RemoteID("100"), node.Current.ID)
	assert.Equal(t, "101", node.Children[0].ID.String())

	var id RemoteID
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Empty(t, id)
	require.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestBuildURLSortsAndDropsEmpty(t *testing.T) {
	t.Parallel()

	params := url.Values{}
	params.Set("zeta", "1")
	params.Set("alpha", "2")
	params.Set("keyword", "")
	got, err := BuildURL("https://api.example.com/search?fixed=x", params)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/search?alpha=2&fixed=x&zeta=1", got)
}

type countingWaiter struct {
	calls atomic.Int32
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return w.err
}

func TestHTTPClientGetJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "a=1&b=2", r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	waiter := &countingWaiter{}
	client := NewHTTPClient(srv.Client(), waiter, HTTPClientConfig{})
	var out struct {
		OK bool `json:"ok"`
	}
	err := client.GetJSON(context.Background(), srv.URL, url.Values{"b": {"2"}, "a": {"1"}}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(1), waiter.calls.Load())
}

func TestHTTPClientNon2xxRedactsSecrets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"too_many_requests"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), nil, HTTPClientConfig{Redact: []string{"applicationId"}})
	err := client.GetJSON(context.Background(), srv.URL, url.Values{"applicationId": {"secret-app"}, "page": {"1"}}, nil)
	require.Error(t, err)

	var upstream *catalog.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Contains(t, upstream.Body, "too_many_requests")
	assert.NotContains(t, upstream.URL, "secret-app")
	assert.Contains(t, upstream.URL, "applicationId=REDACTED")
}

func TestHTTPClientMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), nil, HTTPClientConfig{})
	var out map[string]any
	err := client.GetJSON(context.Background(), srv.URL, nil, &out)
	require.True(t, catalog.IsUpstream(err))
	assert.Contains(t, err.Error(), "malformed response")
}

func TestHTTPClientLimiterErrorStopsRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	waitErr := errors.New("limiter closed")
	client := NewHTTPClient(srv.Client(), &countingWaiter{err: waitErr}, HTTPClientConfig{})
	err := client.GetJSON(context.Background(), srv.URL, nil, nil)
	require.ErrorIs(t, err, waitErr)
	assert.Zero(t, hits.Load())
}

func TestHTTPClientPostJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["q"]})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), nil, HTTPClientConfig{})
	var out map[string]string
	require.NoError(t, client.PostJSON(context.Background(), srv.URL, map[string]string{"q": "hello"}, &out))
	assert.Equal(t, "hello", out["echo"])
}
