package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func product(id string, active bool, modified time.Time) catalog.Product {
	site, siteID, _ := catalog.SplitID(id)
	return catalog.Product{ID: id, Site: site, SiteID: siteID, Name: id, IsActive: active, ModifiedAt: modified}
}

func TestInTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(repo catalog.Repository) error {
		_, err := repo.InsertCategories(ctx, []catalog.Category{{ID: "rakuten:1", Site: catalog.SiteRakuten, SiteID: "1"}})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.CategoryIDs())

	require.NoError(t, store.InTx(ctx, func(repo catalog.Repository) error {
		_, err := repo.InsertCategories(ctx, []catalog.Category{{ID: "rakuten:1", Site: catalog.SiteRakuten, SiteID: "1"}})
		return err
	}))
	assert.Equal(t, []string{"rakuten:1"}, store.CategoryIDs())
}

func TestInsertsAreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	p := product("rakuten:A", true, time.Now())

	n, err := store.InsertProducts(ctx, []catalog.Product{p, p})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.AttachCategories(ctx, []catalog.ProductCategory{{ProductID: p.ID, CategoryID: "rakuten:1"}, {ProductID: p.ID, CategoryID: "rakuten:1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.InsertImages(ctx, []catalog.ProductImage{{ProductID: p.ID, URL: "http://x/i.jpg"}, {ProductID: p.ID, URL: "http://x/i.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFailNextInjectsPersistenceError(t *testing.T) {
	t.Parallel()

	store := New()
	store.FailNext("GetProduct", errors.New("connection reset"))

	_, err := store.GetProduct(context.Background(), "rakuten:A")
	require.True(t, catalog.IsPersistence(err))

	_, err = store.GetProduct(context.Background(), "rakuten:A")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestReclaimCandidatesOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	products := []catalog.Product{
		product("rakuten:new-active", true, base.Add(3*time.Hour)),
		product("rakuten:old-active", true, base),
		product("rakuten:new-inactive", false, base.Add(2*time.Hour)),
		product("rakuten:old-inactive", false, base.Add(time.Hour)),
	}
	_, err := store.InsertProducts(ctx, products)
	require.NoError(t, err)
	for _, p := range products {
		_, err := store.AttachCategories(ctx, []catalog.ProductCategory{{ProductID: p.ID, CategoryID: "rakuten:1"}})
		require.NoError(t, err)
	}
	store.AddInventory(catalog.ProductInventory{ProductID: "rakuten:old-inactive"})

	ids, err := store.ReclaimCandidates(ctx, "rakuten:1", 3, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"rakuten:old-inactive", "rakuten:new-inactive", "rakuten:old-active"}, ids)

	ids, err = store.ReclaimCandidates(ctx, "rakuten:1", 2, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"rakuten:new-inactive", "rakuten:old-active"}, ids)
}

func TestDeleteProductsCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	p := product("rakuten:A", true, time.Now())
	_, err := store.InsertProducts(ctx, []catalog.Product{p})
	require.NoError(t, err)
	_, err = store.InsertImages(ctx, []catalog.ProductImage{{ProductID: p.ID, URL: "u"}})
	require.NoError(t, err)
	inv := store.AddInventory(catalog.ProductInventory{ProductID: p.ID})
	promo := store.AddPromotion(catalog.Promotion{ProductIDs: []string{p.ID}})

	n, err := store.DeleteProducts(ctx, []string{p.ID, "rakuten:missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	images, err := store.ProductImages(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
	_, ok := store.Inventory(inv.ID)
	assert.False(t, ok)
	got, err := store.GetPromotion(ctx, promo.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ProductIDs)
}

func TestLatestConversionPicksNewest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.InsertConversion(ctx, catalog.Conversion{From: catalog.Yen, To: catalog.Som, PricePer: decimal.RequireFromString("0.4"), CreatedAt: base})
	require.NoError(t, err)
	_, err = store.InsertConversion(ctx, catalog.Conversion{From: catalog.Yen, To: catalog.Som, PricePer: decimal.RequireFromString("0.5"), CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	c, err := store.LatestConversion(ctx, catalog.Yen, catalog.Som)
	require.NoError(t, err)
	assert.True(t, c.PricePer.Equal(decimal.RequireFromString("0.5")))

	_, err = store.LatestConversion(ctx, catalog.Yen, catalog.Dollar)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestActivePromotionRequiresDiscountAndWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	store.AddPromotion(catalog.Promotion{ProductIDs: []string{"rakuten:A"}, EndDate: &past, Discount: &catalog.Discount{Percentage: decimal.NewFromInt(50)}})
	open := store.AddPromotion(catalog.Promotion{ProductIDs: []string{"rakuten:A"}})

	_, err := store.ActivePromotionForProduct(ctx, "rakuten:A", now)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	require.NoError(t, store.SaveDiscount(ctx, catalog.Discount{PromotionID: open.ID, Percentage: decimal.NewFromInt(20)}))
	got, err := store.ActivePromotionForProduct(ctx, "rakuten:A", now)
	require.NoError(t, err)
	assert.Equal(t, open.ID, got.ID)
	assert.True(t, got.Discount.Percentage.Equal(decimal.NewFromInt(20)))
}

func TestCredentialsAndTranslations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	a, err := store.UpsertCredential(ctx, catalog.Credential{Site: catalog.SiteRakuten, AppID: "a"})
	require.NoError(t, err)
	_, err = store.UpsertCredential(ctx, catalog.Credential{Site: catalog.SiteRakuten, AppID: "b", Disabled: true})
	require.NoError(t, err)
	again, err := store.UpsertCredential(ctx, catalog.Credential{Site: catalog.SiteRakuten, AppID: "a", PartnerID: "p"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	active, err := store.ActiveCredentials(ctx, catalog.SiteRakuten)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p", active[0].PartnerID)

	_, err = store.InsertTags(ctx, []catalog.Tag{{ID: "rakuten:1", Name: "赤"}})
	require.NoError(t, err)
	require.NoError(t, store.SetTranslation(ctx, catalog.EntityTag, "rakuten:1", "name", catalog.LangEN, "Red"))
	v, ok := store.Translation(catalog.EntityTag, "rakuten:1", "name", catalog.LangEN)
	assert.True(t, ok)
	assert.Equal(t, "Red", v)
	require.Error(t, store.SetTranslation(ctx, catalog.EntityTag, "rakuten:1", "description", catalog.LangEN, "x"))
	require.ErrorIs(t, store.SetTranslation(ctx, catalog.EntityProduct, "rakuten:zz", "name", catalog.LangEN, "x"), catalog.ErrNotFound)
}
