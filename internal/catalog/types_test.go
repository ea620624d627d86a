package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := LocalID(SiteRakuten, "shop:item-1")
	require.Equal(t, "rakuten:shop:item-1", id)

	site, siteID, err := SplitID(id)
	require.NoError(t, err)
	assert.Equal(t, SiteRakuten, site)
	assert.Equal(t, "shop:item-1", siteID)
}

func TestSplitIDRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "rakuten", "rakuten:", "amazon:1"} {
		_, _, err := SplitID(id)
		assert.Error(t, err, id)
	}
}

func TestCurrencyOf(t *testing.T) {
	t.Parallel()

	cur, err := CurrencyOf("rakuten:A")
	require.NoError(t, err)
	assert.Equal(t, Yen, cur)

	cur, err = CurrencyOf("uniqlo:E123")
	require.NoError(t, err)
	assert.Equal(t, Yen, cur)

	_, err = CurrencyOf("nope")
	require.Error(t, err)
}

func TestStripQuery(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"http://x/i.jpg?q=1":           "http://x/i.jpg",
		"https://x/a/b.png?_ex=128x128": "https://x/a/b.png",
		"https://x/c.png#frag":          "https://x/c.png",
		"https://x/d.png":               "https://x/d.png",
		" https://x/e.png?":             "https://x/e.png",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripQuery(in), in)
	}
}

func TestProductStale(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	p := Product{ModifiedAt: now.Add(-72 * time.Hour)}
	assert.True(t, p.Stale(now, 24*time.Hour))

	p.ModifiedAt = now.Add(-time.Minute)
	assert.False(t, p.Stale(now, 24*time.Hour))

	p.ModifiedAt = now.Add(-24 * time.Hour)
	assert.True(t, p.Stale(now, 24*time.Hour), "boundary counts as stale")
}

func TestProductPatchColumnsAndApply(t *testing.T) {
	t.Parallel()

	name := "New"
	price := decimal.NewFromInt(1200)
	avail := false
	patch := ProductPatch{ID: "rakuten:A", Name: &name, SitePrice: &price, Availability: &avail}
	require.Equal(t, []string{"name", "site_price", "availability"}, patch.Columns())
	require.False(t, patch.Empty())

	p := Product{ID: "rakuten:A", Name: "Old", SitePrice: decimal.NewFromInt(1000), Availability: true, URL: "u"}
	patch.Apply(&p)
	assert.Equal(t, "New", p.Name)
	assert.True(t, p.SitePrice.Equal(price))
	assert.False(t, p.Availability)
	assert.Equal(t, "u", p.URL)

	assert.True(t, ProductPatch{ID: "x"}.Empty())
}

func TestPromotionActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, Promotion{}.ActiveAt(now))
	assert.True(t, Promotion{StartDate: &past, EndDate: &future}.ActiveAt(now))
	assert.False(t, Promotion{StartDate: &future}.ActiveAt(now))
	assert.False(t, Promotion{EndDate: &past}.ActiveAt(now))
	assert.False(t, Promotion{Deactivated: true}.ActiveAt(now))
}

func TestCredentialBusyKey(t *testing.T) {
	t.Parallel()

	c := Credential{ID: 7, AppID: "app-123"}
	assert.Equal(t, "busy_client:7_app-123", c.BusyKey())
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	up := &UpstreamError{Status: 502, URL: "https://api/x", Body: "bad"}
	wrapped := errors.Join(errors.New("ctx"), up)
	assert.True(t, IsUpstream(wrapped))
	assert.False(t, IsPersistence(wrapped))

	pe := &PersistenceError{Op: "insert products", Err: ErrNotFound}
	assert.True(t, IsPersistence(pe))
	assert.ErrorIs(t, pe, ErrNotFound)
	assert.Contains(t, (&DataShapeError{Field: "itemPrice", Record: "rakuten:A"}).Error(), "itemPrice")
}

func TestTranslatable(t *testing.T) {
	t.Parallel()

	assert.True(t, Translatable(EntityProduct, "description"))
	assert.False(t, Translatable(EntityCategory, "description"))
	assert.Len(t, TargetLangs, 5)
}
