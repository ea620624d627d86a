// Package memory provides an in-memory catalog store for development and tests.
//
// Transactions run against a private copy of the data that replaces the
// committed state only when the callback succeeds, so a failed payload
// leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

type set map[string]struct{}

type state struct {
	categories   map[string]catalog.Category
	tags         map[string]catalog.Tag
	products     map[string]catalog.Product
	productCats  map[string]set
	productTags  map[string]set
	images       map[string][]string
	inventories  map[int64]catalog.ProductInventory
	promotions   map[int64]catalog.Promotion
	conversions  []catalog.Conversion
	credentials  map[int64]catalog.Credential
	translations map[string]string
	failures     []catalog.TaskFailure
	seq          int64
}

func newState() *state {
	return &state{
		categories:   map[string]catalog.Category{},
		tags:         map[string]catalog.Tag{},
		products:     map[string]catalog.Product{},
		productCats:  map[string]set{},
		productTags:  map[string]set{},
		images:       map[string][]string{},
		inventories:  map[int64]catalog.ProductInventory{},
		promotions:   map[int64]catalog.Promotion{},
		credentials:  map[int64]catalog.Credential{},
		translations: map[string]string{},
	}
}

func (s *state) clone() *state {
	c := &state{
		categories:   maps.Clone(s.categories),
		tags:         maps.Clone(s.tags),
		products:     maps.Clone(s.products),
		productCats:  make(map[string]set, len(s.productCats)),
		productTags:  make(map[string]set, len(s.productTags)),
		images:       make(map[string][]string, len(s.images)),
		inventories:  maps.Clone(s.inventories),
		promotions:   make(map[int64]catalog.Promotion, len(s.promotions)),
		conversions:  slices.Clone(s.conversions),
		credentials:  maps.Clone(s.credentials),
		translations: maps.Clone(s.translations),
		failures:     slices.Clone(s.failures),
		seq:          s.seq,
	}
	for k, v := range s.productCats {
		c.productCats[k] = maps.Clone(v)
	}
	for k, v := range s.productTags {
		c.productTags[k] = maps.Clone(v)
	}
	for k, v := range s.images {
		c.images[k] = slices.Clone(v)
	}
	for k, v := range s.promotions {
		v.ProductIDs = slices.Clone(v.ProductIDs)
		c.promotions[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store is a catalog.Store held in process memory.
type Store struct {
	mu     sync.Mutex
	data   *state
	now    func() time.Time
	inject map[string]error
}

var _ catalog.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		data:   newState(),
		now:    func() time.Time { return time.Now().UTC() },
		inject: map[string]error{},
	}
}

// FailNext makes the next call of the named Repository method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[method] = err
}

// InTx implements catalog.Store. Transactions are serialized.
func (s *Store) InTx(ctx context.Context, fn func(catalog.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&repo{st: work, store: s}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Ping implements catalog.Store.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements catalog.Store.
func (s *Store) Close() {}

func (s *Store) view(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.data, store: s})
}

// repo runs Repository operations against one state snapshot. The owning
// Store's mutex is held for its whole lifetime.
type repo struct {
	st    *state
	store *Store
}

func (r *repo) fail(method string) error {
	if err, ok := r.store.inject[method]; ok {
		delete(r.store.inject, method)
		return &catalog.PersistenceError{Op: method, Err: err}
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, catalog.ErrNotFound)
}

func (r *repo) GetCategory(_ context.Context, id string) (catalog.Category, error) {
	if err := r.fail("GetCategory"); err != nil {
		return catalog.Category{}, err
	}
	c, ok := r.st.categories[id]
	if !ok {
		return catalog.Category{}, notFound("category", id)
	}
	return c, nil
}

func (r *repo) ExistingCategoryIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	if err := r.fail("ExistingCategoryIDs"); err != nil {
		return nil, err
	}
	out := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := r.st.categories[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (r *repo) InsertCategories(_ context.Context, categories []catalog.Category) (int, error) {
	if err := r.fail("InsertCategories"); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range categories {
		if _, ok := r.st.categories[c.ID]; ok {
			continue
		}
		r.st.categories[c.ID] = c
		n++
	}
	return n, nil
}

func (r *repo) CategoryChildren(_ context.Context, parentID string) ([]catalog.Category, error) {
	if err := r.fail("CategoryChildren"); err != nil {
		return nil, err
	}
	var out []catalog.Category
	for _, c := range r.st.categories {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sortCategories(out)
	return out, nil
}

func (r *repo) CategoriesByLevel(_ context.Context, site catalog.Site, level int) ([]catalog.Category, error) {
	if err := r.fail("CategoriesByLevel"); err != nil {
		return nil, err
	}
	var out []catalog.Category
	for _, c := range r.st.categories {
		if c.Site == site && c.Level == level {
			out = append(out, c)
		}
	}
	sortCategories(out)
	return out, nil
}

func (r *repo) DeactivateCategories(_ context.Context, ids []string) error {
	if err := r.fail("DeactivateCategories"); err != nil {
		return err
	}
	for _, id := range ids {
		if c, ok := r.st.categories[id]; ok {
			c.Deactivated = true
			r.st.categories[id] = c
		}
	}
	return nil
}

func (r *repo) GetTags(_ context.Context, ids []string) (map[string]catalog.Tag, error) {
	if err := r.fail("GetTags"); err != nil {
		return nil, err
	}
	out := map[string]catalog.Tag{}
	for _, id := range ids {
		if t, ok := r.st.tags[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (r *repo) InsertTags(_ context.Context, tags []catalog.Tag) (int, error) {
	if err := r.fail("InsertTags"); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tags {
		if _, ok := r.st.tags[t.ID]; ok {
			continue
		}
		r.st.tags[t.ID] = t
		n++
	}
	return n, nil
}

func (r *repo) UpdateTag(_ context.Context, tag catalog.Tag) error {
	if err := r.fail("UpdateTag"); err != nil {
		return err
	}
	if _, ok := r.st.tags[tag.ID]; !ok {
		return notFound("tag", tag.ID)
	}
	r.st.tags[tag.ID] = tag
	return nil
}

func (r *repo) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	if err := r.fail("GetProduct"); err != nil {
		return catalog.Product{}, err
	}
	p, ok := r.st.products[id]
	if !ok {
		return catalog.Product{}, notFound("product", id)
	}
	return p, nil
}

func (r *repo) GetProducts(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	if err := r.fail("GetProducts"); err != nil {
		return nil, err
	}
	out := map[string]catalog.Product{}
	for _, id := range ids {
		if p, ok := r.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *repo) InsertProducts(_ context.Context, products []catalog.Product) (int, error) {
	if err := r.fail("InsertProducts"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range products {
		if _, ok := r.st.products[p.ID]; ok {
			continue
		}
		r.st.products[p.ID] = p
		n++
	}
	return n, nil
}

func (r *repo) UpdateProduct(_ context.Context, patch catalog.ProductPatch) error {
	if err := r.fail("UpdateProduct"); err != nil {
		return err
	}
	p, ok := r.st.products[patch.ID]
	if !ok {
		return notFound("product", patch.ID)
	}
	patch.Apply(&p)
	r.st.products[p.ID] = p
	return nil
}

func (r *repo) AttachCategories(_ context.Context, links []catalog.ProductCategory) (int, error) {
	if err := r.fail("AttachCategories"); err != nil {
		return 0, err
	}
	return attach(r.st.productCats, links, func(l catalog.ProductCategory) (string, string) {
		return l.ProductID, l.CategoryID
	}), nil
}

func (r *repo) ProductTagIDs(_ context.Context, productID string) ([]string, error) {
	if err := r.fail("ProductTagIDs"); err != nil {
		return nil, err
	}
	return sortedKeys(r.st.productTags[productID]), nil
}

func (r *repo) AttachTags(_ context.Context, links []catalog.ProductTag) (int, error) {
	if err := r.fail("AttachTags"); err != nil {
		return 0, err
	}
	return attach(r.st.productTags, links, func(l catalog.ProductTag) (string, string) {
		return l.ProductID, l.TagID
	}), nil
}

func (r *repo) DetachTags(_ context.Context, productID string, tagIDs []string) error {
	if err := r.fail("DetachTags"); err != nil {
		return err
	}
	for _, id := range tagIDs {
		delete(r.st.productTags[productID], id)
	}
	return nil
}

func (r *repo) InsertImages(_ context.Context, images []catalog.ProductImage) (int, error) {
	if err := r.fail("InsertImages"); err != nil {
		return 0, err
	}
	n := 0
	for _, img := range images {
		if slices.Contains(r.st.images[img.ProductID], img.URL) {
			continue
		}
		r.st.images[img.ProductID] = append(r.st.images[img.ProductID], img.URL)
		n++
	}
	return n, nil
}

func (r *repo) ProductImages(_ context.Context, productID string) ([]catalog.ProductImage, error) {
	if err := r.fail("ProductImages"); err != nil {
		return nil, err
	}
	var out []catalog.ProductImage
	for _, u := range r.st.images[productID] {
		out = append(out, catalog.ProductImage{ProductID: productID, URL: u})
	}
	return out, nil
}

func (r *repo) CountCategoryProducts(_ context.Context, categoryID string, activeOnly bool) (int, error) {
	if err := r.fail("CountCategoryProducts"); err != nil {
		return 0, err
	}
	n := 0
	for pid, cats := range r.st.productCats {
		if _, ok := cats[categoryID]; !ok {
			continue
		}
		p, ok := r.st.products[pid]
		if !ok || (activeOnly && !p.IsActive) {
			continue
		}
		n++
	}
	return n, nil
}

func (r *repo) ReclaimCandidates(_ context.Context, categoryID string, limit int, protectInventory bool) ([]string, error) {
	if err := r.fail("ReclaimCandidates"); err != nil {
		return nil, err
	}
	withInventory := set{}
	if protectInventory {
		for _, inv := range r.st.inventories {
			withInventory[inv.ProductID] = struct{}{}
		}
	}
	var candidates []catalog.Product
	for pid, cats := range r.st.productCats {
		if _, ok := cats[categoryID]; !ok {
			continue
		}
		if _, held := withInventory[pid]; held {
			continue
		}
		if p, ok := r.st.products[pid]; ok {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsActive != b.IsActive {
			return !a.IsActive
		}
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.Before(b.ModifiedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	ids := make([]string, 0, len(candidates))
	for _, p := range candidates {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (r *repo) DeleteProducts(_ context.Context, ids []string) (int, error) {
	if err := r.fail("DeleteProducts"); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, ok := r.st.products[id]; !ok {
			continue
		}
		delete(r.st.products, id)
		delete(r.st.productCats, id)
		delete(r.st.productTags, id)
		delete(r.st.images, id)
		for invID, inv := range r.st.inventories {
			if inv.ProductID == id {
				delete(r.st.inventories, invID)
			}
		}
		for promoID, promo := range r.st.promotions {
			if i := slices.Index(promo.ProductIDs, id); i >= 0 {
				promo.ProductIDs = slices.Delete(promo.ProductIDs, i, i+1)
				r.st.promotions[promoID] = promo
			}
		}
		n++
	}
	return n, nil
}

func (r *repo) ProductInventories(_ context.Context, productID string) ([]catalog.ProductInventory, error) {
	if err := r.fail("ProductInventories"); err != nil {
		return nil, err
	}
	var out []catalog.ProductInventory
	for _, inv := range r.st.inventories {
		if inv.ProductID == productID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) SetInventorySalePrice(_ context.Context, inventoryID int64, price *decimal.Decimal) error {
	if err := r.fail("SetInventorySalePrice"); err != nil {
		return err
	}
	inv, ok := r.st.inventories[inventoryID]
	if !ok {
		return notFound("inventory", fmt.Sprint(inventoryID))
	}
	inv.SalePrice = price
	r.st.inventories[inventoryID] = inv
	return nil
}

func (r *repo) GetPromotion(_ context.Context, id int64) (catalog.Promotion, error) {
	if err := r.fail("GetPromotion"); err != nil {
		return catalog.Promotion{}, err
	}
	p, ok := r.st.promotions[id]
	if !ok {
		return catalog.Promotion{}, notFound("promotion", fmt.Sprint(id))
	}
	p.ProductIDs = slices.Clone(p.ProductIDs)
	return p, nil
}

func (r *repo) ActivePromotionForProduct(_ context.Context, productID string, now time.Time) (catalog.Promotion, error) {
	if err := r.fail("ActivePromotionForProduct"); err != nil {
		return catalog.Promotion{}, err
	}
	var best *catalog.Promotion
	for _, p := range r.st.promotions {
		if p.Discount == nil || !p.ActiveAt(now) || !slices.Contains(p.ProductIDs, productID) {
			continue
		}
		if best == nil || p.ID > best.ID {
			cp := p
			best = &cp
		}
	}
	if best == nil {
		return catalog.Promotion{}, notFound("active promotion for", productID)
	}
	return *best, nil
}

func (r *repo) SaveDiscount(_ context.Context, discount catalog.Discount) error {
	if err := r.fail("SaveDiscount"); err != nil {
		return err
	}
	p, ok := r.st.promotions[discount.PromotionID]
	if !ok {
		return notFound("promotion", fmt.Sprint(discount.PromotionID))
	}
	d := discount
	p.Discount = &d
	r.st.promotions[p.ID] = p
	return nil
}

func (r *repo) DeleteDiscount(_ context.Context, promotionID int64) error {
	if err := r.fail("DeleteDiscount"); err != nil {
		return err
	}
	p, ok := r.st.promotions[promotionID]
	if !ok {
		return notFound("promotion", fmt.Sprint(promotionID))
	}
	p.Discount = nil
	r.st.promotions[p.ID] = p
	return nil
}

func (r *repo) LatestConversion(_ context.Context, from, to catalog.Currency) (catalog.Conversion, error) {
	if err := r.fail("LatestConversion"); err != nil {
		return catalog.Conversion{}, err
	}
	var best *catalog.Conversion
	for i := range r.st.conversions {
		c := &r.st.conversions[i]
		if c.From != from || c.To != to {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) || (c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return catalog.Conversion{}, notFound("conversion", string(from)+"->"+string(to))
	}
	return *best, nil
}

func (r *repo) InsertConversion(_ context.Context, conversion catalog.Conversion) (catalog.Conversion, error) {
	if err := r.fail("InsertConversion"); err != nil {
		return catalog.Conversion{}, err
	}
	conversion.ID = r.st.nextID()
	if conversion.CreatedAt.IsZero() {
		conversion.CreatedAt = r.store.now()
	}
	r.st.conversions = append(r.st.conversions, conversion)
	return conversion, nil
}

func (r *repo) ActiveCredentials(_ context.Context, site catalog.Site) ([]catalog.Credential, error) {
	if err := r.fail("ActiveCredentials"); err != nil {
		return nil, err
	}
	var out []catalog.Credential
	for _, c := range r.st.credentials {
		if c.Site == site && !c.Disabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) UpsertCredential(_ context.Context, credential catalog.Credential) (catalog.Credential, error) {
	if err := r.fail("UpsertCredential"); err != nil {
		return catalog.Credential{}, err
	}
	if credential.ID == 0 {
		for _, c := range r.st.credentials {
			if c.Site == credential.Site && c.AppID == credential.AppID {
				credential.ID = c.ID
				break
			}
		}
	}
	if credential.ID == 0 {
		credential.ID = r.st.nextID()
	}
	r.st.credentials[credential.ID] = credential
	return credential, nil
}

func (r *repo) SetTranslation(_ context.Context, entity catalog.Entity, id, field string, lang catalog.Lang, value string) error {
	if err := r.fail("SetTranslation"); err != nil {
		return err
	}
	if !catalog.Translatable(entity, field) {
		return fmt.Errorf("%s.%s is not translatable", entity, field)
	}
	var exists bool
	switch entity {
	case catalog.EntityCategory:
		_, exists = r.st.categories[id]
	case catalog.EntityTag:
		_, exists = r.st.tags[id]
	case catalog.EntityProduct:
		_, exists = r.st.products[id]
	}
	if !exists {
		return notFound(string(entity), id)
	}
	r.st.translations[translationKey(entity, id, field, lang)] = value
	return nil
}

func (r *repo) RecordTaskFailure(_ context.Context, failure catalog.TaskFailure) error {
	if err := r.fail("RecordTaskFailure"); err != nil {
		return err
	}
	r.st.failures = append(r.st.failures, failure)
	return nil
}

func translationKey(entity catalog.Entity, id, field string, lang catalog.Lang) string {
	return fmt.Sprintf("%s|%s|%s_%s", entity, id, field, lang)
}

func attach[L any](index map[string]set, links []L, key func(L) (string, string)) int {
	n := 0
	for _, l := range links {
		owner, target := key(l)
		s, ok := index[owner]
		if !ok {
			s = set{}
			index[owner] = s
		}
		if _, dup := s[target]; dup {
			continue
		}
		s[target] = struct{}{}
		n++
	}
	return n
}

func sortedKeys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortCategories(cs []catalog.Category) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
