package shipping

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	kvmemory "github.com/JakeFAU/catalog-ingest/internal/kv/memory"
	kvredis "github.com/JakeFAU/catalog-ingest/internal/kv/redis"
	"github.com/JakeFAU/catalog-ingest/internal/source/fedex"
	"github.com/JakeFAU/catalog-ingest/internal/storage/memory"
)

type fakeQuoter struct {
	calls []fedex.QuoteRequest
	quote fedex.Quote
	err   error
}

func (f *fakeQuoter) RateQuote(_ context.Context, req fedex.QuoteRequest) (fedex.Quote, error) {
	f.calls = append(f.calls, req)
	return f.quote, f.err
}

func seedCategories(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	weight := decimal.RequireFromString("1.250")
	_, err := store.InsertCategories(context.Background(), []catalog.Category{
		{ID: "rakuten:100", Site: catalog.SiteRakuten, SiteID: "100", Name: "Books", AvgWeight: &weight},
		{ID: "rakuten:200", Site: catalog.SiteRakuten, SiteID: "200", Name: "Toys"},
	})
	require.NoError(t, err)
	return store
}

func TestEstimateQuotesAndCaches(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := kvredis.NewWithClient(client, "")

	quoter := &fakeQuoter{quote: fedex.Quote{ServiceType: "FEDEX_INTERNATIONAL_ECONOMY", Amount: decimal.RequireFromString("98.10"), Currency: "USD"}}
	est := NewEstimator(seedCategories(t), quoter, cache, Config{}, nil)

	q, err := est.Estimate(context.Background(), "rakuten:100", "kz", " 050000 ")
	require.NoError(t, err)
	assert.Equal(t, "FEDEX_INTERNATIONAL_ECONOMY", q.ServiceType)
	assert.True(t, q.Amount.Equal(decimal.RequireFromString("98.1")))

	require.Len(t, quoter.calls, 1)
	assert.Equal(t, fedex.Address{PostalCode: "050000", CountryCode: "KZ"}, quoter.calls[0].Recipient)
	assert.True(t, quoter.calls[0].WeightKG.Equal(decimal.RequireFromString("1.25")))

	assert.True(t, mr.Exists("shipping_quote:rakuten:100:KZ:050000"))
	assert.Equal(t, defaultTTL, mr.TTL("shipping_quote:rakuten:100:KZ:050000"))

	cached, err := est.Estimate(context.Background(), "rakuten:100", "KZ", "050000")
	require.NoError(t, err)
	assert.Len(t, quoter.calls, 1)
	assert.True(t, cached.Amount.Equal(q.Amount))
	assert.Equal(t, "USD", cached.Currency)
}

func TestEstimateMissingWeight(t *testing.T) {
	t.Parallel()

	cache := kvmemory.New(0)
	t.Cleanup(cache.Close)
	quoter := &fakeQuoter{}
	est := NewEstimator(seedCategories(t), quoter, cache, Config{}, nil)

	_, err := est.Estimate(context.Background(), "rakuten:200", "KZ", "050000")
	var cfgErr *catalog.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, quoter.calls)

	_, err = est.Estimate(context.Background(), "rakuten:999", "KZ", "050000")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestEstimateQuoteErrorIsNotCached(t *testing.T) {
	t.Parallel()

	cache := kvmemory.New(0)
	t.Cleanup(cache.Close)
	quoter := &fakeQuoter{err: errors.New("fedex down")}
	est := NewEstimator(seedCategories(t), quoter, cache, Config{}, nil)

	_, err := est.Estimate(context.Background(), "rakuten:100", "KZ", "050000")
	require.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestEstimateIgnoresMalformedCacheEntry(t *testing.T) {
	t.Parallel()

	cache := kvmemory.New(0)
	t.Cleanup(cache.Close)
	require.NoError(t, cache.Set(context.Background(), CacheKey("rakuten:100", "KZ", "050000"), "{broken", 0))
	quoter := &fakeQuoter{quote: fedex.Quote{ServiceType: "X", Amount: decimal.NewFromInt(10), Currency: "USD"}}
	est := NewEstimator(seedCategories(t), quoter, cache, Config{}, nil)

	q, err := est.Estimate(context.Background(), "rakuten:100", "KZ", "050000")
	require.NoError(t, err)
	assert.Equal(t, "X", q.ServiceType)
	assert.Len(t, quoter.calls, 1)
}
