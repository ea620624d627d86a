package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// ItemsResult reports what an item payload changed.
type ItemsResult struct {
	Inserted []string
	Updated  []string
	Fresh    []string
	Skipped  int
}

// SaveItems applies one item page for categoryID. Tag groups are stored
// first, then new products with their ancestor categories, known tags and
// images. Known products go through the update path. The whole page is one
// transaction.
func (e *Engine) SaveItems(ctx context.Context, site catalog.Site, categoryID string, raw []json.RawMessage, groups []source.TagGroup) (ItemsResult, error) {
	fields, err := e.fieldMap(site)
	if err != nil {
		return ItemsResult{}, err
	}
	items, skipped := e.extract(site, fields, raw)
	result := ItemsResult{Skipped: skipped}
	now := e.now()

	var newItems []Item
	var missingTags []string
	err = e.store.InTx(ctx, func(repo catalog.Repository) error {
		result.Inserted, result.Updated, result.Fresh = nil, nil, nil
		newItems, missingTags = nil, nil

		if len(groups) > 0 {
			if _, err := e.saveGroupsTx(ctx, repo, site, groups); err != nil {
				return err
			}
		}
		if len(items) == 0 {
			return nil
		}

		existing, err := repo.GetProducts(ctx, itemIDs(items))
		if err != nil {
			return persistence("lookup products", err)
		}
		var stale []Item
		for _, it := range items {
			if _, ok := existing[it.ID]; ok {
				stale = append(stale, it)
				continue
			}
			newItems = append(newItems, it)
		}

		if len(newItems) > 0 {
			missingTags, err = e.insertNew(ctx, repo, site, categoryID, newItems, now)
			if err != nil {
				return err
			}
			result.Inserted = itemIDs(newItems)
		}
		if len(stale) > 0 {
			updated, fresh, err := e.updateTx(ctx, repo, stale, existing, now)
			if err != nil {
				return err
			}
			result.Updated, result.Fresh = updated, fresh
		}
		return nil
	})
	if err != nil {
		return ItemsResult{}, err
	}

	metrics.ObserveProducts(string(site), "inserted", len(result.Inserted))
	metrics.ObserveProducts(string(site), "updated", len(result.Updated))
	metrics.ObserveProducts(string(site), "fresh", len(result.Fresh))
	metrics.ObserveProducts(string(site), "skipped", result.Skipped)

	for _, it := range newItems {
		fields := map[string]string{"name": it.Name}
		if it.Description != nil {
			fields["description"] = *it.Description
		}
		e.translate(ctx, catalog.EntityProduct, it.ID, fields)
	}
	e.lookupTags(ctx, site, missingTags)

	e.logger.Info("item page saved",
		zap.String("site", string(site)),
		zap.String("category", categoryID),
		zap.Int("inserted", len(result.Inserted)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("fresh", len(result.Fresh)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// UpdateItems applies the mutation path to already-known products. Unknown
// ids are ignored and products inside the freshness window are left alone.
func (e *Engine) UpdateItems(ctx context.Context, site catalog.Site, raw []json.RawMessage) (ItemsResult, error) {
	fields, err := e.fieldMap(site)
	if err != nil {
		return ItemsResult{}, err
	}
	items, skipped := e.extract(site, fields, raw)
	result := ItemsResult{Skipped: skipped}
	if len(items) == 0 {
		return result, nil
	}
	now := e.now()

	err = e.store.InTx(ctx, func(repo catalog.Repository) error {
		existing, err := repo.GetProducts(ctx, itemIDs(items))
		if err != nil {
			return persistence("lookup products", err)
		}
		known := items[:0:0]
		for _, it := range items {
			if _, ok := existing[it.ID]; ok {
				known = append(known, it)
			}
		}
		result.Updated, result.Fresh, err = e.updateTx(ctx, repo, known, existing, now)
		return err
	})
	if err != nil {
		return ItemsResult{}, err
	}
	metrics.ObserveProducts(string(site), "updated", len(result.Updated))
	metrics.ObserveProducts(string(site), "fresh", len(result.Fresh))
	return result, nil
}

func (e *Engine) extract(site catalog.Site, fields FieldMap, raw []json.RawMessage) ([]Item, int) {
	items := make([]Item, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	skipped := 0
	for _, r := range raw {
		it, err := fields.Extract(r)
		if err != nil {
			var shape *catalog.DataShapeError
			if errors.As(err, &shape) {
				e.logger.Warn("skipping malformed item",
					zap.String("site", string(site)),
					zap.String("field", shape.Field),
					zap.String("record", shape.Record),
				)
			}
			skipped++
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return items, skipped
}

// insertNew writes products, category links, tag links and images for items
// that do not exist yet. It returns the tag ids that are still unknown.
func (e *Engine) insertNew(ctx context.Context, repo catalog.Repository, site catalog.Site, categoryID string, items []Item, now time.Time) ([]string, error) {
	products := make([]catalog.Product, 0, len(items))
	for _, it := range items {
		products = append(products, e.newProduct(site, it, now))
	}
	if _, err := repo.InsertProducts(ctx, products); err != nil {
		return nil, persistence("insert products", err)
	}

	if categoryID != "" {
		chain, err := AncestorChain(ctx, repo, LocalizeID(site, categoryID))
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			e.logger.Warn("item page category unknown; products left unattached",
				zap.String("site", string(site)),
				zap.String("category", categoryID),
			)
		case err != nil:
			return nil, persistence("load category ancestors", err)
		default:
			var links []catalog.ProductCategory
			for _, it := range items {
				for _, cat := range chain {
					if cat == catalog.VirtualRootID(site) {
						continue
					}
					links = append(links, catalog.ProductCategory{ProductID: it.ID, CategoryID: cat})
				}
			}
			if len(links) > 0 {
				if _, err := repo.AttachCategories(ctx, links); err != nil {
					return nil, persistence("attach categories", err)
				}
			}
		}
	}

	missing, err := attachKnownTags(ctx, repo, items)
	if err != nil {
		return nil, err
	}

	var images []catalog.ProductImage
	for _, it := range items {
		for _, u := range it.Images {
			images = append(images, catalog.ProductImage{ProductID: it.ID, URL: u})
		}
	}
	if len(images) > 0 {
		if _, err := repo.InsertImages(ctx, images); err != nil {
			return nil, persistence("insert images", err)
		}
	}
	return missing, nil
}

func (e *Engine) newProduct(site catalog.Site, it Item, now time.Time) catalog.Product {
	p := catalog.Product{
		ID:           it.ID,
		Site:         site,
		SiteID:       it.SiteID,
		Name:         it.Name,
		SitePrice:    it.Price,
		IncreasePer:  e.cfg.DefaultIncreasePer,
		Availability: true,
		IsActive:     true,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	if it.Description != nil {
		p.Description = *it.Description
	}
	if it.URL != nil {
		p.URL = *it.URL
	}
	if it.Availability != nil {
		p.Availability = *it.Availability
	}
	if it.ReviewCount != nil {
		p.ReviewCount = *it.ReviewCount
	}
	if it.ReviewAverage != nil {
		p.ReviewAverage = *it.ReviewAverage
	}
	return p
}

// attachKnownTags links items to the tags that exist with a known group and
// returns the ids that are not stored yet.
func attachKnownTags(ctx context.Context, repo catalog.Repository, items []Item) ([]string, error) {
	var all []string
	for _, it := range items {
		all = append(all, it.TagIDs...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	known, err := repo.GetTags(ctx, all)
	if err != nil {
		return nil, persistence("lookup tags", err)
	}

	var links []catalog.ProductTag
	var missing []string
	seenMissing := make(map[string]struct{})
	for _, it := range items {
		for _, id := range it.TagIDs {
			tag, ok := known[id]
			if !ok {
				if _, dup := seenMissing[id]; !dup {
					seenMissing[id] = struct{}{}
					missing = append(missing, id)
				}
				continue
			}
			if tag.IsGroup() {
				continue
			}
			links = append(links, catalog.ProductTag{ProductID: it.ID, TagID: id})
		}
	}
	if len(links) > 0 {
		if _, err := repo.AttachTags(ctx, links); err != nil {
			return nil, persistence("attach tags", err)
		}
	}
	return missing, nil
}

// updateTx applies the freshness gate and writes changed columns and the
// reconciled tag set for each stale product.
func (e *Engine) updateTx(ctx context.Context, repo catalog.Repository, items []Item, existing map[string]catalog.Product, now time.Time) (updated, fresh []string, err error) {
	for _, it := range items {
		current := existing[it.ID]
		if !current.Stale(now, e.cfg.UpdateDelta) {
			e.logger.Debug("skipping fresh product",
				zap.String("product", it.ID),
				zap.Time("modified_at", current.ModifiedAt),
			)
			fresh = append(fresh, it.ID)
			continue
		}

		patch := Diff(current, it)
		if !patch.Empty() {
			patch.ModifiedAt = now
			if err := repo.UpdateProduct(ctx, patch); err != nil {
				return nil, nil, persistence("update product", err)
			}
		}
		tagsChanged, err := reconcileTags(ctx, repo, it)
		if err != nil {
			return nil, nil, err
		}
		if !patch.Empty() || tagsChanged {
			updated = append(updated, it.ID)
		}
	}
	return updated, fresh, nil
}

// Diff stages the columns of it that differ from current.
func Diff(current catalog.Product, it Item) catalog.ProductPatch {
	patch := catalog.ProductPatch{ID: current.ID}
	if it.Name != current.Name {
		name := it.Name
		patch.Name = &name
	}
	if !it.Price.Equal(current.SitePrice) {
		price := it.Price
		patch.SitePrice = &price
	}
	if it.Description != nil && *it.Description != current.Description {
		patch.Description = it.Description
	}
	if it.URL != nil && *it.URL != current.URL {
		patch.URL = it.URL
	}
	if it.Availability != nil && *it.Availability != current.Availability {
		patch.Availability = it.Availability
	}
	if it.ReviewCount != nil && *it.ReviewCount != current.ReviewCount {
		patch.ReviewCount = it.ReviewCount
	}
	if it.ReviewAverage != nil && !it.ReviewAverage.Equal(current.ReviewAverage) {
		patch.ReviewAverage = it.ReviewAverage
	}
	return patch
}

// reconcileTags makes the stored tag set equal to the incoming one. A record
// without a tag field leaves tags alone; an empty list removes them all.
func reconcileTags(ctx context.Context, repo catalog.Repository, it Item) (bool, error) {
	if !it.HasTags {
		return false, nil
	}
	current, err := repo.ProductTagIDs(ctx, it.ID)
	if err != nil {
		return false, persistence("load product tags", err)
	}
	want := make(map[string]struct{}, len(it.TagIDs))
	for _, id := range it.TagIDs {
		want[id] = struct{}{}
	}
	have := make(map[string]struct{}, len(current))
	var remove []string
	for _, id := range current {
		have[id] = struct{}{}
		if _, ok := want[id]; !ok {
			remove = append(remove, id)
		}
	}
	if len(remove) > 0 {
		if err := repo.DetachTags(ctx, it.ID, remove); err != nil {
			return false, persistence("detach tags", err)
		}
	}

	var add []string
	for _, id := range it.TagIDs {
		if _, ok := have[id]; !ok {
			add = append(add, id)
		}
	}
	attached := 0
	if len(add) > 0 {
		known, err := repo.GetTags(ctx, add)
		if err != nil {
			return false, persistence("lookup tags", err)
		}
		var links []catalog.ProductTag
		for _, id := range add {
			if tag, ok := known[id]; ok && !tag.IsGroup() {
				links = append(links, catalog.ProductTag{ProductID: it.ID, TagID: id})
			}
		}
		if len(links) > 0 {
			if attached, err = repo.AttachTags(ctx, links); err != nil {
				return false, persistence("attach tags", err)
			}
		}
	}
	return len(remove) > 0 || attached > 0, nil
}

// lookupTags submits parse_tag for unknown tag ids, bounded per payload.
func (e *Engine) lookupTags(ctx context.Context, site catalog.Site, ids []string) {
	for i, id := range ids {
		if i >= e.cfg.MaxTagLookups {
			e.logger.Debug("tag lookups truncated",
				zap.String("site", string(site)),
				zap.Int("unknown", len(ids)),
				zap.Int("submitted", i),
			)
			return
		}
		_, remote, err := catalog.SplitID(id)
		if err != nil {
			continue
		}
		if err := e.tasks.ParseTag(ctx, site, remote); err != nil {
			e.logger.Warn("submit parse_tag failed", zap.String("tag", id), zap.Error(err))
		}
	}
}

// AncestorChain returns categoryID followed by each stored ancestor up to
// the root. Only categoryID itself must exist.
func AncestorChain(ctx context.Context, repo catalog.Repository, categoryID string) ([]string, error) {
	var chain []string
	seen := make(map[string]struct{})
	id := categoryID
	for {
		if _, loop := seen[id]; loop {
			return chain, nil
		}
		seen[id] = struct{}{}
		cat, err := repo.GetCategory(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) && len(chain) > 0 {
				return chain, nil
			}
			return nil, err
		}
		chain = append(chain, cat.ID)
		if cat.ParentID == nil || *cat.ParentID == "" {
			return chain, nil
		}
		id = *cat.ParentID
	}
}

func itemIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}
