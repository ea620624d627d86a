package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
)

// Default reclaim bounds.
const (
	DefaultPerRootTotal = 1_000_000
	DefaultDeleteChunk  = 20_000
)

// ReclaimConfig bounds product deletion.
type ReclaimConfig struct {
	// PerRootTotal is divided evenly between the active root categories.
	PerRootTotal int
	// Chunk is the largest number of products deleted per transaction.
	Chunk int
	// ProtectInventory excludes products that still own inventory rows.
	ProtectInventory bool
}

// ReclaimResult reports deletions per root category.
type ReclaimResult struct {
	Cap     int
	Deleted map[string]int
}

// Total returns the number of products deleted.
func (r ReclaimResult) Total() int {
	n := 0
	for _, d := range r.Deleted {
		n += d
	}
	return n
}

// ClearProducts trims every active root category of site down to its share
// of the product budget, deleting inactive and oldest products first. A
// root is never reduced below the cap.
func (e *Engine) ClearProducts(ctx context.Context, site catalog.Site, cfg ReclaimConfig) (ReclaimResult, error) {
	if cfg.PerRootTotal <= 0 {
		cfg.PerRootTotal = DefaultPerRootTotal
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = DefaultDeleteChunk
	}
	result := ReclaimResult{Deleted: map[string]int{}}

	roots, err := e.store.CategoriesByLevel(ctx, site, 1)
	if err != nil {
		return result, persistence("load root categories", err)
	}
	active := roots[:0:0]
	for _, r := range roots {
		if !r.Deactivated {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return result, nil
	}
	result.Cap = cfg.PerRootTotal / len(active)

	for _, root := range active {
		count, err := e.store.CountCategoryProducts(ctx, root.ID, false)
		if err != nil {
			return result, persistence("count root products", err)
		}
		for count > result.Cap {
			limit := min(cfg.Chunk, count-result.Cap)
			deleted := 0
			err := e.store.InTx(ctx, func(repo catalog.Repository) error {
				ids, err := repo.ReclaimCandidates(ctx, root.ID, limit, cfg.ProtectInventory)
				if err != nil {
					return persistence("select reclaim candidates", err)
				}
				if len(ids) == 0 {
					return nil
				}
				deleted, err = repo.DeleteProducts(ctx, ids)
				return persistence("delete products", err)
			})
			if err != nil {
				return result, err
			}
			if deleted == 0 {
				e.logger.Warn("reclaim stalled above cap",
					zap.String("root", root.ID),
					zap.Int("count", count),
					zap.Int("cap", result.Cap),
				)
				break
			}
			count -= deleted
			result.Deleted[root.ID] += deleted
			metrics.ObserveDeleted(string(site), deleted)
		}
	}

	e.logger.Info("reclaim finished",
		zap.String("site", string(site)),
		zap.Int("roots", len(active)),
		zap.Int("cap", result.Cap),
		zap.Int("deleted", result.Total()),
	)
	return result, nil
}
