package memory

import (
	"slices"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// AddInventory stores inv, assigning an id when it has none.
func (s *Store) AddInventory(inv catalog.ProductInventory) catalog.ProductInventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = s.data.nextID()
	}
	s.data.inventories[inv.ID] = inv
	return inv
}

// AddPromotion stores p, assigning an id when it has none.
func (s *Store) AddPromotion(p catalog.Promotion) catalog.Promotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.data.nextID()
	}
	p.ProductIDs = slices.Clone(p.ProductIDs)
	s.data.promotions[p.ID] = p
	return p
}

// Inventory returns the stored inventory row.
func (s *Store) Inventory(id int64) (catalog.ProductInventory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.data.inventories[id]
	return inv, ok
}

// CategoryIDs lists every stored category id in order.
func (s *Store) CategoryIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data.categories))
	for id := range s.data.categories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ProductIDs lists every stored product id in order.
func (s *Store) ProductIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data.products))
	for id := range s.data.products {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ProductCategoryIDs lists the categories product id is attached to.
func (s *Store) ProductCategoryIDs(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.data.productCats[id])
}

// Translation returns a stored language variant.
func (s *Store) Translation(entity catalog.Entity, id, field string, lang catalog.Lang) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.translations[translationKey(entity, id, field, lang)]
	return v, ok
}

// TaskFailures returns the recorded task failures.
func (s *Store) TaskFailures() []catalog.TaskFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data.failures)
}
