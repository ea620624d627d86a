package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// The Store's Repository methods each run as a single-statement transaction.

func (s *Store) GetCategory(ctx context.Context, id string) (c catalog.Category, err error) {
	err = s.view(func(r *repo) error { c, err = r.GetCategory(ctx, id); return err })
	return c, err
}

func (s *Store) ExistingCategoryIDs(ctx context.Context, ids []string) (out map[string]struct{}, err error) {
	err = s.view(func(r *repo) error { out, err = r.ExistingCategoryIDs(ctx, ids); return err })
	return out, err
}

func (s *Store) InsertCategories(ctx context.Context, categories []catalog.Category) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.InsertCategories(ctx, categories); return err })
	return n, err
}

func (s *Store) CategoryChildren(ctx context.Context, parentID string) (out []catalog.Category, err error) {
	err = s.view(func(r *repo) error { out, err = r.CategoryChildren(ctx, parentID); return err })
	return out, err
}

func (s *Store) CategoriesByLevel(ctx context.Context, site catalog.Site, level int) (out []catalog.Category, err error) {
	err = s.view(func(r *repo) error { out, err = r.CategoriesByLevel(ctx, site, level); return err })
	return out, err
}

func (s *Store) DeactivateCategories(ctx context.Context, ids []string) error {
	return s.view(func(r *repo) error { return r.DeactivateCategories(ctx, ids) })
}

func (s *Store) GetTags(ctx context.Context, ids []string) (out map[string]catalog.Tag, err error) {
	err = s.view(func(r *repo) error { out, err = r.GetTags(ctx, ids); return err })
	return out, err
}

func (s *Store) InsertTags(ctx context.Context, tags []catalog.Tag) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.InsertTags(ctx, tags); return err })
	return n, err
}

func (s *Store) UpdateTag(ctx context.Context, tag catalog.Tag) error {
	return s.view(func(r *repo) error { return r.UpdateTag(ctx, tag) })
}

func (s *Store) GetProduct(ctx context.Context, id string) (p catalog.Product, err error) {
	err = s.view(func(r *repo) error { p, err = r.GetProduct(ctx, id); return err })
	return p, err
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (out map[string]catalog.Product, err error) {
	err = s.view(func(r *repo) error { out, err = r.GetProducts(ctx, ids); return err })
	return out, err
}

func (s *Store) InsertProducts(ctx context.Context, products []catalog.Product) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.InsertProducts(ctx, products); return err })
	return n, err
}

func (s *Store) UpdateProduct(ctx context.Context, patch catalog.ProductPatch) error {
	return s.view(func(r *repo) error { return r.UpdateProduct(ctx, patch) })
}

func (s *Store) AttachCategories(ctx context.Context, links []catalog.ProductCategory) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.AttachCategories(ctx, links); return err })
	return n, err
}

func (s *Store) ProductTagIDs(ctx context.Context, productID string) (out []string, err error) {
	err = s.view(func(r *repo) error { out, err = r.ProductTagIDs(ctx, productID); return err })
	return out, err
}

func (s *Store) AttachTags(ctx context.Context, links []catalog.ProductTag) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.AttachTags(ctx, links); return err })
	return n, err
}

func (s *Store) DetachTags(ctx context.Context, productID string, tagIDs []string) error {
	return s.view(func(r *repo) error { return r.DetachTags(ctx, productID, tagIDs) })
}

func (s *Store) InsertImages(ctx context.Context, images []catalog.ProductImage) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.InsertImages(ctx, images); return err })
	return n, err
}

func (s *Store) ProductImages(ctx context.Context, productID string) (out []catalog.ProductImage, err error) {
	err = s.view(func(r *repo) error { out, err = r.ProductImages(ctx, productID); return err })
	return out, err
}

func (s *Store) CountCategoryProducts(ctx context.Context, categoryID string, activeOnly bool) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.CountCategoryProducts(ctx, categoryID, activeOnly); return err })
	return n, err
}

func (s *Store) ReclaimCandidates(ctx context.Context, categoryID string, limit int, protectInventory bool) (out []string, err error) {
	err = s.view(func(r *repo) error {
		out, err = r.ReclaimCandidates(ctx, categoryID, limit, protectInventory)
		return err
	})
	return out, err
}

func (s *Store) DeleteProducts(ctx context.Context, ids []string) (n int, err error) {
	err = s.view(func(r *repo) error { n, err = r.DeleteProducts(ctx, ids); return err })
	return n, err
}

func (s *Store) ProductInventories(ctx context.Context, productID string) (out []catalog.ProductInventory, err error) {
	err = s.view(func(r *repo) error { out, err = r.ProductInventories(ctx, productID); return err })
	return out, err
}

func (s *Store) SetInventorySalePrice(ctx context.Context, inventoryID int64, price *decimal.Decimal) error {
	return s.view(func(r *repo) error { return r.SetInventorySalePrice(ctx, inventoryID, price) })
}

func (s *Store) GetPromotion(ctx context.Context, id int64) (p catalog.Promotion, err error) {
	err = s.view(func(r *repo) error { p, err = r.GetPromotion(ctx, id); return err })
	return p, err
}

func (s *Store) ActivePromotionForProduct(ctx context.Context, productID string, now time.Time) (p catalog.Promotion, err error) {
	err = s.view(func(r *repo) error { p, err = r.ActivePromotionForProduct(ctx, productID, now); return err })
	return p, err
}

func (s *Store) SaveDiscount(ctx context.Context, discount catalog.Discount) error {
	return s.view(func(r *repo) error { return r.SaveDiscount(ctx, discount) })
}

func (s *Store) DeleteDiscount(ctx context.Context, promotionID int64) error {
	return s.view(func(r *repo) error { return r.DeleteDiscount(ctx, promotionID) })
}

func (s *Store) LatestConversion(ctx context.Context, from, to catalog.Currency) (c catalog.Conversion, err error) {
	err = s.view(func(r *repo) error { c, err = r.LatestConversion(ctx, from, to); return err })
	return c, err
}

func (s *Store) InsertConversion(ctx context.Context, conversion catalog.Conversion) (c catalog.Conversion, err error) {
	err = s.view(func(r *repo) error { c, err = r.InsertConversion(ctx, conversion); return err })
	return c, err
}

func (s *Store) ActiveCredentials(ctx context.Context, site catalog.Site) (out []catalog.Credential, err error) {
	err = s.view(func(r *repo) error { out, err = r.ActiveCredentials(ctx, site); return err })
	return out, err
}

func (s *Store) UpsertCredential(ctx context.Context, credential catalog.Credential) (c catalog.Credential, err error) {
	err = s.view(func(r *repo) error { c, err = r.UpsertCredential(ctx, credential); return err })
	return c, err
}

func (s *Store) SetTranslation(ctx context.Context, entity catalog.Entity, id, field string, lang catalog.Lang, value string) error {
	return s.view(func(r *repo) error { return r.SetTranslation(ctx, entity, id, field, lang, value) })
}

func (s *Store) RecordTaskFailure(ctx context.Context, failure catalog.TaskFailure) error {
	return s.view(func(r *repo) error { return r.RecordTaskFailure(ctx, failure) })
}
