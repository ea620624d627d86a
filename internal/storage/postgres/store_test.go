package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)

	_, err = New(context.Background(), StoreConfig{})
	require.Error(t, err)
}

func TestMigrateExecutesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS categories").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCategoriesCountsOnlyNewRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	parent := "rakuten:0"
	cats := []catalog.Category{
		{ID: "rakuten:100", Site: catalog.SiteRakuten, SiteID: "100", Name: "Fashion", Level: 1, ParentID: &parent},
		{ID: "rakuten:101", Site: catalog.SiteRakuten, SiteID: "101", Name: "Shoes", Level: 1, ParentID: &parent},
	}

	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO categories").
		WithArgs("rakuten:100", "rakuten", "100", "Fashion", 1, &parent, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO categories").
		WithArgs("rakuten:101", "rakuten", "101", "Shoes", 1, &parent, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := store.InsertCategories(context.Background(), cats)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchInsertsUseOneRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	products := mock.ExpectBatch()
	for _, id := range []string{"rakuten:A", "rakuten:B", "rakuten:C"} {
		products.ExpectExec("INSERT INTO products").
			WithArgs(id, "rakuten", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	tags := mock.ExpectBatch()
	tags.ExpectExec("INSERT INTO tags").
		WithArgs("rakuten:t1", "rakuten", "t1", "Red", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	cats := mock.ExpectBatch()
	cats.ExpectExec("INSERT INTO product_categories").
		WithArgs("rakuten:A", "rakuten:100").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	cats.ExpectExec("INSERT INTO product_categories").
		WithArgs("rakuten:B", "rakuten:100").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	images := mock.ExpectBatch()
	images.ExpectExec("INSERT INTO product_images").
		WithArgs("rakuten:A", "https://img.example/a.jpg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.InsertProducts(ctx, []catalog.Product{
		{ID: "rakuten:A", Site: catalog.SiteRakuten},
		{ID: "rakuten:B", Site: catalog.SiteRakuten},
		{ID: "rakuten:C", Site: catalog.SiteRakuten},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.InsertTags(ctx, []catalog.Tag{{ID: "rakuten:t1", Site: catalog.SiteRakuten, SiteID: "t1", Name: "Red"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.AttachCategories(ctx, []catalog.ProductCategory{
		{ProductID: "rakuten:A", CategoryID: "rakuten:100"},
		{ProductID: "rakuten:B", CategoryID: "rakuten:100"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.InsertImages(ctx, []catalog.ProductImage{{ProductID: "rakuten:A", URL: "https://img.example/a.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.AttachTags(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchInsertFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO product_images").
		WithArgs("rakuten:A", "https://img.example/a.jpg").
		WillReturnError(errors.New("connection reset"))

	n, err := store.InsertImages(context.Background(), []catalog.ProductImage{{ProductID: "rakuten:A", URL: "https://img.example/a.jpg"}})
	require.Error(t, err)
	assert.True(t, catalog.IsPersistence(err))
	assert.Contains(t, err.Error(), "insert images")
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCategoryScansNullableColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	parent := "rakuten:0"
	rows := pgxmock.NewRows([]string{"id", "site", "site_id", "name", "level", "parent_id", "deactivated", "avg_weight"}).
		AddRow("rakuten:100", "rakuten", "100", "Fashion", 1, &parent, false,
			decimal.NullDecimal{Decimal: decimal.RequireFromString("1.5"), Valid: true})
	mock.ExpectQuery("SELECT id, site, site_id, name, level, parent_id, deactivated, avg_weight FROM categories").
		WithArgs("rakuten:100").
		WillReturnRows(rows)

	c, err := store.GetCategory(context.Background(), "rakuten:100")
	require.NoError(t, err)
	assert.Equal(t, catalog.SiteRakuten, c.Site)
	require.NotNil(t, c.ParentID)
	assert.Equal(t, "rakuten:0", *c.ParentID)
	require.NotNil(t, c.AvgWeight)
	assert.True(t, c.AvgWeight.Equal(decimal.RequireFromString("1.5")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCategoryNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM categories").
		WithArgs("rakuten:404").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site", "site_id", "name", "level", "parent_id", "deactivated", "avg_weight"}))

	_, err := store.GetCategory(context.Background(), "rakuten:404")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.False(t, catalog.IsPersistence(err))
}

func TestQueryFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT tag_id FROM product_tags").
		WithArgs("rakuten:A").
		WillReturnError(errors.New("connection reset"))

	_, err := store.ProductTagIDs(context.Background(), "rakuten:A")
	require.Error(t, err)
	assert.True(t, catalog.IsPersistence(err))
}

func TestUpdateProductWritesOnlyStagedColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	price := decimal.NewFromInt(1200)
	avail := false
	modified := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE products SET site_price = \$2, availability = \$3, modified_at = \$4 WHERE id = \$1`).
		WithArgs("rakuten:A", price, false, modified).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateProduct(context.Background(), catalog.ProductPatch{
		ID: "rakuten:A", SitePrice: &price, Availability: &avail, ModifiedAt: modified,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	name := "New"
	mock.ExpectExec("UPDATE products SET name").
		WithArgs("rakuten:gone", "New").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateProduct(context.Background(), catalog.ProductPatch{ID: "rakuten:gone", Name: &name})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestUpdateProductEmptyPatchIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.UpdateProduct(context.Background(), catalog.ProductPatch{ID: "rakuten:A"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductsScansSalePrice(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "site", "site_id", "name", "description", "url", "site_price", "increase_per", "sale_price",
		"availability", "is_active", "review_count", "review_average", "created_at", "modified_at",
	}
	rows := pgxmock.NewRows(cols).
		AddRow("rakuten:A", "rakuten", "A", "Item A", "desc", "https://x/a", decimal.NewFromInt(1000),
			decimal.NewFromInt(10), decimal.NullDecimal{Decimal: decimal.NewFromInt(990), Valid: true},
			true, true, 3, decimal.RequireFromString("4.5"), now, now).
		AddRow("rakuten:B", "rakuten", "B", "Item B", "", "", decimal.NewFromInt(500),
			decimal.Zero, decimal.NullDecimal{},
			false, true, 0, decimal.Zero, now, now)
	mock.ExpectQuery("FROM products WHERE id = ANY").
		WithArgs([]string{"rakuten:A", "rakuten:B"}).
		WillReturnRows(rows)

	got, err := store.GetProducts(context.Background(), []string{"rakuten:A", "rakuten:B"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got["rakuten:A"].SalePrice)
	assert.True(t, got["rakuten:A"].SalePrice.Equal(decimal.NewFromInt(990)))
	assert.Nil(t, got["rakuten:B"].SalePrice)
	assert.False(t, got["rakuten:B"].Availability)
}

func TestGetProductsEmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	got, err := store.GetProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectBatch().ExpectExec("INSERT INTO product_tags").
		WithArgs("rakuten:A", "rakuten:t1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(r catalog.Repository) error {
		n, err := r.AttachTags(context.Background(), []catalog.ProductTag{{ProductID: "rakuten:A", TagID: "rakuten:t1"}})
		assert.Equal(t, 1, n)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectBatch().ExpectExec("INSERT INTO products").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(r catalog.Repository) error {
		_, err := r.InsertProducts(context.Background(), []catalog.Product{{ID: "rakuten:A", Site: catalog.SiteRakuten}})
		return err
	})
	require.Error(t, err)
	assert.True(t, catalog.IsPersistence(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxBeginFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := store.InTx(context.Background(), func(catalog.Repository) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, catalog.IsPersistence(err))
	assert.False(t, called)
}

func TestReclaimCandidatesPassesLimitAndProtection(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("ORDER BY p.is_active ASC, p.modified_at ASC").
		WithArgs("rakuten:100", 2, true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("rakuten:old").AddRow("rakuten:older"))

	ids, err := store.ReclaimCandidates(context.Background(), "rakuten:100", 2, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"rakuten:old", "rakuten:older"}, ids)
}

func TestSetInventorySalePriceClears(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE product_inventories SET sale_price").
		WithArgs(int64(7), (*decimal.Decimal)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetInventorySalePrice(context.Background(), 7, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivePromotionForProductLoadsProducts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("JOIN discounts d").
		WithArgs("rakuten:A", now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "site", "start_date", "end_date", "deactivated", "percentage"}).
			AddRow(int64(3), "rakuten", nil, nil, false,
				decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true}))
	mock.ExpectQuery("SELECT product_id FROM promotion_products").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"product_id"}).AddRow("rakuten:A").AddRow("rakuten:B"))

	p, err := store.ActivePromotionForProduct(context.Background(), "rakuten:A", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ID)
	require.NotNil(t, p.Discount)
	assert.True(t, p.Discount.Percentage.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, []string{"rakuten:A", "rakuten:B"}, p.ProductIDs)
	assert.Nil(t, p.StartDate)
}

func TestSaveDiscountUnknownPromotion(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO discounts").
		WithArgs(int64(9), decimal.NewFromInt(15)).
		WillReturnError(&pgconn.PgError{Code: fkViolation})

	err := store.SaveDiscount(context.Background(), catalog.Discount{PromotionID: 9, Percentage: decimal.NewFromInt(15)})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeleteDiscountChecksPromotion(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM discounts").
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := store.DeleteDiscount(context.Background(), 4)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestConversion(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM conversions").
		WithArgs("yen", "som").
		WillReturnRows(pgxmock.NewRows([]string{"id", "price_per", "created_at"}).
			AddRow(int64(2), decimal.RequireFromString("0.58"), created))

	c, err := store.LatestConversion(context.Background(), catalog.Yen, catalog.Som)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.ID)
	assert.Equal(t, catalog.Som, c.To)
	assert.True(t, c.PricePer.Equal(decimal.RequireFromString("0.58")))
}

func TestInsertConversionStampsCreatedAt(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	mock.ExpectQuery("INSERT INTO conversions").
		WithArgs("yen", "dollar", decimal.RequireFromString("0.0064"), fixed).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	c, err := store.InsertConversion(context.Background(), catalog.Conversion{
		From: catalog.Yen, To: catalog.Dollar, PricePer: decimal.RequireFromString("0.0064"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), c.ID)
	assert.Equal(t, fixed, c.CreatedAt)
}

func TestUpsertCredentialMatchesOnSiteAndApp(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("ON CONFLICT \\(site, app_id\\)").
		WithArgs("rakuten", "app-1", "s3cret", "aff-1", false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	c, err := store.UpsertCredential(context.Background(), catalog.Credential{
		Site: catalog.SiteRakuten, AppID: "app-1", Secret: "s3cret", PartnerID: "aff-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.ID)
}

func TestActiveCredentials(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM credentials").
		WithArgs("uniqlo").
		WillReturnRows(pgxmock.NewRows([]string{"id", "app_id", "secret", "partner_id"}).
			AddRow(int64(1), "client-a", "", "").
			AddRow(int64(2), "client-b", "", ""))

	creds, err := store.ActiveCredentials(context.Background(), catalog.SiteUniqlo)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, catalog.SiteUniqlo, creds[1].Site)
	assert.Equal(t, "client-b", creds[1].AppID)
}

func TestSetTranslationUsesWhitelistedColumn(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE products SET description_kz = \$2 WHERE id = \$1`).
		WithArgs("rakuten:A", "сипаттама").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.SetTranslation(context.Background(), catalog.EntityProduct, "rakuten:A", "description", catalog.LangKZ, "сипаттама")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTranslationRejectsUnknownField(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	err := store.SetTranslation(context.Background(), catalog.EntityCategory, "rakuten:1", "description", catalog.LangEN, "x")
	require.Error(t, err)

	err = store.SetTranslation(context.Background(), catalog.EntityTag, "rakuten:1", "name; DROP TABLE tags", catalog.LangEN, "x")
	require.Error(t, err)

	err = store.SetTranslation(context.Background(), catalog.EntityTag, "rakuten:1", "name", catalog.Lang("xx"), "x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTaskFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO task_failures").
		WithArgs("task-1", "save_items", "default", 4, "boom", []byte(`{"site":"rakuten"}`), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordTaskFailure(context.Background(), catalog.TaskFailure{
		TaskID: "task-1", Name: "save_items", Queue: "default", Attempt: 4, Error: "boom",
		Args: []byte(`{"site":"rakuten"}`), FailedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing().WillReturnError(errors.New("down"))

	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, catalog.IsPersistence(err))
}
