package uniqlo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

var testCred = catalog.Credential{ID: 3, Site: catalog.SiteUniqlo, AppID: "client-xyz"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(source.NewHTTPClient(srv.Client(), nil, source.HTTPClientConfig{Redact: RedactedParams}), srv.URL+"/")
}

func TestCategoriesSearch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, categoriesPath, r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("parent"))
		assert.Equal(t, "client-xyz", r.URL.Query().Get("clientId"))
		_, _ = w.Write([]byte(`{"current":{"id":"0","name":"","level":0},"children":[{"id":"men","name":"Men","level":1}]}`))
	})

	node, err := client.CategoriesSearch(context.Background(), testCred, "")
	require.NoError(t, err)
	assert.Equal(t, source.RemoteID("0"), node.Current.ID)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "Men", node.Children[0].Name)
}

func TestItemSearchMapsPageToOffset(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "men-tops", q.Get("categoryId"))
		assert.Equal(t, "60", q.Get("offset"))
		assert.Equal(t, "30", q.Get("limit"))
		_, _ = w.Write([]byte(`{"result":{"items":[{"productId":"E1"},{"productId":"E2"}],"pagination":{"total":95,"offset":60,"count":2}}}`))
	})

	page, err := client.ItemSearch(context.Background(), testCred, source.ItemQuery{CategoryID: "men-tops", Page: 3, Hits: 30})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 4, page.TotalPages)
	assert.Equal(t, 3, page.Page)
}

func TestItemSearchByCodeUsesProductIDs(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "E1", r.URL.Query().Get("productIds"))
		_, _ = w.Write([]byte(`{"result":{"items":[],"pagination":{"total":0}}}`))
	})

	page, err := client.ItemSearch(context.Background(), testCred, source.ItemQuery{ItemCode: "E1", Page: 1, Hits: 1})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.TotalPages)
}

func TestItemSearchRejectsHits(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("unexpected request")
	})
	_, err := client.ItemSearch(context.Background(), testCred, source.ItemQuery{CategoryID: "x", Page: 1, Hits: 50})
	require.ErrorIs(t, err, source.ErrInvalidQuery)
}

func TestTagSearchIsEmpty(t *testing.T) {
	t.Parallel()

	client := New(nil, "http://unused")
	group, err := client.TagSearch(context.Background(), testCred, "1")
	require.NoError(t, err)
	assert.Empty(t, group.Tags)
}
