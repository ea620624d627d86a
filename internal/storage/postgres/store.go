// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

//go:embed schema.sql
var schema string

// foreign_key_violation
const fkViolation = "23503"

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

type pool interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store is a catalog.Store backed by Postgres. Repository methods called
// directly on the Store run in autocommit mode.
type Store struct {
	repo
	pool pool
}

var _ catalog.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Store{repo: repo{q: p, now: now}, pool: p}, nil
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return persistence("migrate", err)
	}
	return nil
}

// InTx implements catalog.Store.
func (s *Store) InTx(ctx context.Context, fn func(catalog.Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistence("begin", err)
	}
	if err := fn(&repo{q: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, persistence("rollback", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistence("commit", err)
	}
	return nil
}

// Ping implements catalog.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return persistence("ping", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func persistence(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &catalog.PersistenceError{Op: op, Err: err}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, catalog.ErrNotFound)
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == fkViolation
}

// repo implements catalog.Repository on any querier: the pool or an open transaction.
type repo struct {
	q   querier
	now func() time.Time
}

const categoryColumns = `id, site, site_id, name, level, parent_id, deactivated, avg_weight`

func scanCategory(row pgx.CollectableRow) (catalog.Category, error) {
	var (
		c      catalog.Category
		site   string
		weight decimal.NullDecimal
	)
	if err := row.Scan(&c.ID, &site, &c.SiteID, &c.Name, &c.Level, &c.ParentID, &c.Deactivated, &weight); err != nil {
		return catalog.Category{}, err
	}
	c.Site = catalog.Site(site)
	if weight.Valid {
		w := weight.Decimal
		c.AvgWeight = &w
	}
	return c, nil
}

func (r *repo) categories(ctx context.Context, op, where string, args ...any) ([]catalog.Category, error) {
	rows, err := r.q.Query(ctx, "SELECT "+categoryColumns+" FROM categories WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, persistence(op, err)
	}
	out, err := pgx.CollectRows(rows, scanCategory)
	if err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

// GetCategory implements catalog.Repository.
func (r *repo) GetCategory(ctx context.Context, id string) (catalog.Category, error) {
	cs, err := r.categories(ctx, "get category", "id = $1", id)
	if err != nil {
		return catalog.Category{}, err
	}
	if len(cs) == 0 {
		return catalog.Category{}, notFound("category", id)
	}
	return cs[0], nil
}

// ExistingCategoryIDs implements catalog.Repository.
func (r *repo) ExistingCategoryIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return r.existing(ctx, "existing categories", "SELECT id FROM categories WHERE id = ANY($1)", ids)
}

func (r *repo) existing(ctx context.Context, op, query string, ids []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, persistence(op, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistence(op, err)
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

// execBatch sends every queued insert in one round trip and sums the rows
// affected. Rows already present count as zero.
func (r *repo) execBatch(ctx context.Context, op string, batch *pgx.Batch) (n int, err error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	results := r.q.SendBatch(ctx, batch)
	defer func() {
		if cerr := results.Close(); cerr != nil && err == nil {
			err = persistence(op, cerr)
		}
	}()
	for range batch.Len() {
		tag, err := results.Exec()
		if err != nil {
			return n, persistence(op, err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

// InsertCategories implements catalog.Repository.
func (r *repo) InsertCategories(ctx context.Context, categories []catalog.Category) (int, error) {
	const query = `
INSERT INTO categories (id, site, site_id, name, level, parent_id, deactivated, avg_weight)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, c := range categories {
		batch.Queue(query, c.ID, string(c.Site), c.SiteID, c.Name, c.Level, c.ParentID, c.Deactivated, c.AvgWeight)
	}
	return r.execBatch(ctx, "insert categories", batch)
}

// CategoryChildren implements catalog.Repository.
func (r *repo) CategoryChildren(ctx context.Context, parentID string) ([]catalog.Category, error) {
	return r.categories(ctx, "category children", "parent_id = $1", parentID)
}

// CategoriesByLevel implements catalog.Repository.
func (r *repo) CategoriesByLevel(ctx context.Context, site catalog.Site, level int) ([]catalog.Category, error) {
	return r.categories(ctx, "categories by level", "site = $1 AND level = $2", string(site), level)
}

// DeactivateCategories implements catalog.Repository.
func (r *repo) DeactivateCategories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, "UPDATE categories SET deactivated = TRUE WHERE id = ANY($1)", ids); err != nil {
		return persistence("deactivate categories", err)
	}
	return nil
}

// GetTags implements catalog.Repository.
func (r *repo) GetTags(ctx context.Context, ids []string) (map[string]catalog.Tag, error) {
	out := map[string]catalog.Tag{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, "SELECT id, site, site_id, name, group_id FROM tags WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, persistence("get tags", err)
	}
	tags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Tag, error) {
		var (
			t    catalog.Tag
			site string
		)
		err := row.Scan(&t.ID, &site, &t.SiteID, &t.Name, &t.GroupID)
		t.Site = catalog.Site(site)
		return t, err
	})
	if err != nil {
		return nil, persistence("get tags", err)
	}
	for _, t := range tags {
		out[t.ID] = t
	}
	return out, nil
}

// InsertTags implements catalog.Repository.
func (r *repo) InsertTags(ctx context.Context, tags []catalog.Tag) (int, error) {
	const query = `
INSERT INTO tags (id, site, site_id, name, group_id)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, t := range tags {
		batch.Queue(query, t.ID, string(t.Site), t.SiteID, t.Name, t.GroupID)
	}
	return r.execBatch(ctx, "insert tags", batch)
}

// UpdateTag implements catalog.Repository.
func (r *repo) UpdateTag(ctx context.Context, t catalog.Tag) error {
	tag, err := r.q.Exec(ctx, "UPDATE tags SET name = $2, group_id = $3 WHERE id = $1", t.ID, t.Name, t.GroupID)
	if err != nil {
		return persistence("update tag", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("tag", t.ID)
	}
	return nil
}

const productColumns = `id, site, site_id, name, description, url, site_price, increase_per, sale_price,
	availability, is_active, review_count, review_average, created_at, modified_at`

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p    catalog.Product
		site string
		sale decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &site, &p.SiteID, &p.Name, &p.Description, &p.URL, &p.SitePrice, &p.IncreasePer, &sale,
		&p.Availability, &p.IsActive, &p.ReviewCount, &p.ReviewAverage, &p.CreatedAt, &p.ModifiedAt)
	if err != nil {
		return catalog.Product{}, err
	}
	p.Site = catalog.Site(site)
	if sale.Valid {
		v := sale.Decimal
		p.SalePrice = &v
	}
	return p, nil
}

func (r *repo) products(ctx context.Context, op, where string, args ...any) ([]catalog.Product, error) {
	rows, err := r.q.Query(ctx, "SELECT "+productColumns+" FROM products WHERE "+where, args...)
	if err != nil {
		return nil, persistence(op, err)
	}
	out, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

// GetProduct implements catalog.Repository.
func (r *repo) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	ps, err := r.products(ctx, "get product", "id = $1", id)
	if err != nil {
		return catalog.Product{}, err
	}
	if len(ps) == 0 {
		return catalog.Product{}, notFound("product", id)
	}
	return ps[0], nil
}

// GetProducts implements catalog.Repository.
func (r *repo) GetProducts(ctx context.Context, ids []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	if len(ids) == 0 {
		return out, nil
	}
	ps, err := r.products(ctx, "get products", "id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		out[p.ID] = p
	}
	return out, nil
}

// InsertProducts implements catalog.Repository.
func (r *repo) InsertProducts(ctx context.Context, products []catalog.Product) (int, error) {
	query := "INSERT INTO products (" + productColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(query,
			p.ID, string(p.Site), p.SiteID, p.Name, p.Description, p.URL, p.SitePrice, p.IncreasePer, p.SalePrice,
			p.Availability, p.IsActive, p.ReviewCount, p.ReviewAverage, p.CreatedAt, p.ModifiedAt)
	}
	return r.execBatch(ctx, "insert products", batch)
}

// UpdateProduct implements catalog.Repository. Only staged columns are written.
func (r *repo) UpdateProduct(ctx context.Context, patch catalog.ProductPatch) error {
	var (
		sets []string
		args = []any{patch.ID}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, col := range patch.Columns() {
		switch col {
		case "name":
			add(col, *patch.Name)
		case "description":
			add(col, *patch.Description)
		case "url":
			add(col, *patch.URL)
		case "site_price":
			add(col, *patch.SitePrice)
		case "availability":
			add(col, *patch.Availability)
		case "review_count":
			add(col, *patch.ReviewCount)
		case "review_average":
			add(col, *patch.ReviewAverage)
		}
	}
	if !patch.ModifiedAt.IsZero() {
		add("modified_at", patch.ModifiedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	tag, err := r.q.Exec(ctx, "UPDATE products SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return persistence("update product", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("product", patch.ID)
	}
	return nil
}

// AttachCategories implements catalog.Repository.
func (r *repo) AttachCategories(ctx context.Context, links []catalog.ProductCategory) (int, error) {
	const query = `INSERT INTO product_categories (product_id, category_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(query, l.ProductID, l.CategoryID)
	}
	return r.execBatch(ctx, "attach categories", batch)
}

// ProductTagIDs implements catalog.Repository.
func (r *repo) ProductTagIDs(ctx context.Context, productID string) ([]string, error) {
	rows, err := r.q.Query(ctx, "SELECT tag_id FROM product_tags WHERE product_id = $1 ORDER BY tag_id", productID)
	if err != nil {
		return nil, persistence("product tags", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistence("product tags", err)
	}
	return ids, nil
}

// AttachTags implements catalog.Repository.
func (r *repo) AttachTags(ctx context.Context, links []catalog.ProductTag) (int, error) {
	const query = `INSERT INTO product_tags (product_id, tag_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(query, l.ProductID, l.TagID)
	}
	return r.execBatch(ctx, "attach tags", batch)
}

// DetachTags implements catalog.Repository.
func (r *repo) DetachTags(ctx context.Context, productID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, "DELETE FROM product_tags WHERE product_id = $1 AND tag_id = ANY($2)", productID, tagIDs)
	if err != nil {
		return persistence("detach tags", err)
	}
	return nil
}

// InsertImages implements catalog.Repository.
func (r *repo) InsertImages(ctx context.Context, images []catalog.ProductImage) (int, error) {
	const query = `INSERT INTO product_images (product_id, url) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, img := range images {
		batch.Queue(query, img.ProductID, img.URL)
	}
	return r.execBatch(ctx, "insert images", batch)
}

// ProductImages implements catalog.Repository.
func (r *repo) ProductImages(ctx context.Context, productID string) ([]catalog.ProductImage, error) {
	rows, err := r.q.Query(ctx, "SELECT product_id, url FROM product_images WHERE product_id = $1 ORDER BY url", productID)
	if err != nil {
		return nil, persistence("product images", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductImage, error) {
		var img catalog.ProductImage
		err := row.Scan(&img.ProductID, &img.URL)
		return img, err
	})
	if err != nil {
		return nil, persistence("product images", err)
	}
	return out, nil
}

// CountCategoryProducts implements catalog.Repository.
func (r *repo) CountCategoryProducts(ctx context.Context, categoryID string, activeOnly bool) (int, error) {
	const query = `
SELECT count(*) FROM product_categories pc
JOIN products p ON p.id = pc.product_id
WHERE pc.category_id = $1 AND (NOT $2::boolean OR p.is_active)`
	var n int
	if err := r.q.QueryRow(ctx, query, categoryID, activeOnly).Scan(&n); err != nil {
		return 0, persistence("count category products", err)
	}
	return n, nil
}

// ReclaimCandidates implements catalog.Repository. Inactive rows sort
// first, then the least recently modified.
func (r *repo) ReclaimCandidates(ctx context.Context, categoryID string, limit int, protectInventory bool) ([]string, error) {
	const query = `
SELECT p.id FROM products p
JOIN product_categories pc ON pc.product_id = p.id
WHERE pc.category_id = $1
  AND (NOT $3::boolean OR NOT EXISTS (SELECT 1 FROM product_inventories i WHERE i.product_id = p.id))
ORDER BY p.is_active ASC, p.modified_at ASC, p.id ASC
LIMIT NULLIF($2::integer, 0)`
	rows, err := r.q.Query(ctx, query, categoryID, limit, protectInventory)
	if err != nil {
		return nil, persistence("reclaim candidates", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistence("reclaim candidates", err)
	}
	return ids, nil
}

// DeleteProducts implements catalog.Repository. Dependent rows cascade.
func (r *repo) DeleteProducts(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, "DELETE FROM products WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, persistence("delete products", err)
	}
	return int(tag.RowsAffected()), nil
}

// ProductInventories implements catalog.Repository.
func (r *repo) ProductInventories(ctx context.Context, productID string) ([]catalog.ProductInventory, error) {
	const query = `
SELECT id, product_id, color, size, status_code, quantity, is_active, site_unit_price, sale_price
FROM product_inventories WHERE product_id = $1 ORDER BY id`
	rows, err := r.q.Query(ctx, query, productID)
	if err != nil {
		return nil, persistence("product inventories", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductInventory, error) {
		var (
			inv  catalog.ProductInventory
			sale decimal.NullDecimal
		)
		err := row.Scan(&inv.ID, &inv.ProductID, &inv.Color, &inv.Size, &inv.StatusCode, &inv.Quantity,
			&inv.IsActive, &inv.SiteUnitPrice, &sale)
		if sale.Valid {
			v := sale.Decimal
			inv.SalePrice = &v
		}
		return inv, err
	})
	if err != nil {
		return nil, persistence("product inventories", err)
	}
	return out, nil
}

// SetInventorySalePrice implements catalog.Repository. A nil price clears the column.
func (r *repo) SetInventorySalePrice(ctx context.Context, inventoryID int64, price *decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, "UPDATE product_inventories SET sale_price = $2 WHERE id = $1", inventoryID, price)
	if err != nil {
		return persistence("set inventory sale price", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("inventory", fmt.Sprint(inventoryID))
	}
	return nil
}

const promotionColumns = `pr.id, pr.site, pr.start_date, pr.end_date, pr.deactivated, d.percentage`

func scanPromotion(row pgx.Row) (catalog.Promotion, error) {
	var (
		p    catalog.Promotion
		site string
		pct  decimal.NullDecimal
	)
	if err := row.Scan(&p.ID, &site, &p.StartDate, &p.EndDate, &p.Deactivated, &pct); err != nil {
		return catalog.Promotion{}, err
	}
	p.Site = catalog.Site(site)
	if pct.Valid {
		p.Discount = &catalog.Discount{PromotionID: p.ID, Percentage: pct.Decimal}
	}
	return p, nil
}

func (r *repo) promotionProducts(ctx context.Context, p *catalog.Promotion) error {
	rows, err := r.q.Query(ctx,
		"SELECT product_id FROM promotion_products WHERE promotion_id = $1 ORDER BY product_id", p.ID)
	if err != nil {
		return persistence("promotion products", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return persistence("promotion products", err)
	}
	p.ProductIDs = ids
	return nil
}

// GetPromotion implements catalog.Repository.
func (r *repo) GetPromotion(ctx context.Context, id int64) (catalog.Promotion, error) {
	query := "SELECT " + promotionColumns + `
FROM promotions pr LEFT JOIN discounts d ON d.promotion_id = pr.id
WHERE pr.id = $1`
	p, err := scanPromotion(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Promotion{}, notFound("promotion", fmt.Sprint(id))
	}
	if err != nil {
		return catalog.Promotion{}, persistence("get promotion", err)
	}
	if err := r.promotionProducts(ctx, &p); err != nil {
		return catalog.Promotion{}, err
	}
	return p, nil
}

// ActivePromotionForProduct implements catalog.Repository. The newest
// active promotion carrying a discount wins.
func (r *repo) ActivePromotionForProduct(ctx context.Context, productID string, now time.Time) (catalog.Promotion, error) {
	query := "SELECT " + promotionColumns + `
FROM promotions pr
JOIN promotion_products pp ON pp.promotion_id = pr.id
JOIN discounts d ON d.promotion_id = pr.id
WHERE pp.product_id = $1
  AND NOT pr.deactivated
  AND (pr.start_date IS NULL OR pr.start_date <= $2)
  AND (pr.end_date IS NULL OR pr.end_date >= $2)
ORDER BY pr.id DESC
LIMIT 1`
	p, err := scanPromotion(r.q.QueryRow(ctx, query, productID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Promotion{}, notFound("active promotion for", productID)
	}
	if err != nil {
		return catalog.Promotion{}, persistence("active promotion", err)
	}
	if err := r.promotionProducts(ctx, &p); err != nil {
		return catalog.Promotion{}, err
	}
	return p, nil
}

// SaveDiscount implements catalog.Repository.
func (r *repo) SaveDiscount(ctx context.Context, d catalog.Discount) error {
	const query = `
INSERT INTO discounts (promotion_id, percentage) VALUES ($1,$2)
ON CONFLICT (promotion_id) DO UPDATE SET percentage = EXCLUDED.percentage`
	if _, err := r.q.Exec(ctx, query, d.PromotionID, d.Percentage); err != nil {
		if isFKViolation(err) {
			return notFound("promotion", fmt.Sprint(d.PromotionID))
		}
		return persistence("save discount", err)
	}
	return nil
}

// DeleteDiscount implements catalog.Repository.
func (r *repo) DeleteDiscount(ctx context.Context, promotionID int64) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM discounts WHERE promotion_id = $1", promotionID)
	if err != nil {
		return persistence("delete discount", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM promotions WHERE id = $1)", promotionID).Scan(&exists); err != nil {
		return persistence("delete discount", err)
	}
	if !exists {
		return notFound("promotion", fmt.Sprint(promotionID))
	}
	return nil
}

// LatestConversion implements catalog.Repository.
func (r *repo) LatestConversion(ctx context.Context, from, to catalog.Currency) (catalog.Conversion, error) {
	const query = `
SELECT id, price_per, created_at FROM conversions
WHERE from_currency = $1 AND to_currency = $2
ORDER BY created_at DESC, id DESC
LIMIT 1`
	c := catalog.Conversion{From: from, To: to}
	err := r.q.QueryRow(ctx, query, string(from), string(to)).Scan(&c.ID, &c.PricePer, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Conversion{}, notFound("conversion", string(from)+"->"+string(to))
	}
	if err != nil {
		return catalog.Conversion{}, persistence("latest conversion", err)
	}
	return c, nil
}

// InsertConversion implements catalog.Repository.
func (r *repo) InsertConversion(ctx context.Context, c catalog.Conversion) (catalog.Conversion, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	const query = `
INSERT INTO conversions (from_currency, to_currency, price_per, created_at)
VALUES ($1,$2,$3,$4) RETURNING id`
	if err := r.q.QueryRow(ctx, query, string(c.From), string(c.To), c.PricePer, c.CreatedAt).Scan(&c.ID); err != nil {
		return catalog.Conversion{}, persistence("insert conversion", err)
	}
	return c, nil
}

// ActiveCredentials implements catalog.Repository.
func (r *repo) ActiveCredentials(ctx context.Context, site catalog.Site) ([]catalog.Credential, error) {
	const query = `
SELECT id, app_id, secret, partner_id FROM credentials
WHERE site = $1 AND NOT disabled ORDER BY id`
	rows, err := r.q.Query(ctx, query, string(site))
	if err != nil {
		return nil, persistence("active credentials", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Credential, error) {
		c := catalog.Credential{Site: site}
		err := row.Scan(&c.ID, &c.AppID, &c.Secret, &c.PartnerID)
		return c, err
	})
	if err != nil {
		return nil, persistence("active credentials", err)
	}
	return out, nil
}

// UpsertCredential implements catalog.Repository. Credentials without an
// id are matched on (site, app_id).
func (r *repo) UpsertCredential(ctx context.Context, c catalog.Credential) (catalog.Credential, error) {
	if c.ID != 0 {
		const update = `
UPDATE credentials SET site = $2, app_id = $3, secret = $4, partner_id = $5, disabled = $6
WHERE id = $1`
		tag, err := r.q.Exec(ctx, update, c.ID, string(c.Site), c.AppID, c.Secret, c.PartnerID, c.Disabled)
		if err != nil {
			return catalog.Credential{}, persistence("update credential", err)
		}
		if tag.RowsAffected() == 0 {
			return catalog.Credential{}, notFound("credential", fmt.Sprint(c.ID))
		}
		return c, nil
	}
	const insert = `
INSERT INTO credentials (site, app_id, secret, partner_id, disabled)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (site, app_id) DO UPDATE
SET secret = EXCLUDED.secret, partner_id = EXCLUDED.partner_id, disabled = EXCLUDED.disabled
RETURNING id`
	err := r.q.QueryRow(ctx, insert, string(c.Site), c.AppID, c.Secret, c.PartnerID, c.Disabled).Scan(&c.ID)
	if err != nil {
		return catalog.Credential{}, persistence("upsert credential", err)
	}
	return c, nil
}

var entityTables = map[catalog.Entity]string{
	catalog.EntityCategory: "categories",
	catalog.EntityTag:      "tags",
	catalog.EntityProduct:  "products",
}

// SetTranslation implements catalog.Repository. Table and column names
// come from fixed whitelists and are never taken from input verbatim.
func (r *repo) SetTranslation(ctx context.Context, entity catalog.Entity, id, field string, lang catalog.Lang, value string) error {
	table, ok := entityTables[entity]
	if !ok || !catalog.Translatable(entity, field) {
		return fmt.Errorf("%s.%s is not translatable", entity, field)
	}
	valid := false
	for _, l := range catalog.TargetLangs {
		valid = valid || l == lang
	}
	if !valid {
		return fmt.Errorf("unsupported language %q", lang)
	}
	query := fmt.Sprintf("UPDATE %s SET %s_%s = $2 WHERE id = $1", table, field, lang)
	tag, err := r.q.Exec(ctx, query, id, value)
	if err != nil {
		return persistence("set translation", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(string(entity), id)
	}
	return nil
}

// RecordTaskFailure implements catalog.Repository.
func (r *repo) RecordTaskFailure(ctx context.Context, f catalog.TaskFailure) error {
	const query = `
INSERT INTO task_failures (task_id, name, queue, attempt, error, args, failed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	var args any
	if len(f.Args) > 0 {
		args = f.Args
	}
	if _, err := r.q.Exec(ctx, query, f.TaskID, f.Name, f.Queue, f.Attempt, f.Error, args, f.FailedAt); err != nil {
		return persistence("record task failure", err)
	}
	return nil
}
