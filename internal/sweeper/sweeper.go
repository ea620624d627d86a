// Package sweeper keeps stored products and categories honest: it rechecks
// single products against their source and deactivates category subtrees
// that no longer hold active products.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/ingest"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// Outcome describes what a recheck did to the product.
type Outcome string

// Recheck outcomes.
const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeAvailable   Outcome = "available"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeMissing     Outcome = "missing"
)

// Config tunes the sweeper.
type Config struct {
	// UpdateDelta is the freshness window; younger products are not rechecked.
	UpdateDelta time.Duration
}

// Sweeper runs availability rechecks and category deactivation.
type Sweeper struct {
	repo   catalog.Repository
	sites  map[catalog.Site]ingest.Site
	clock  catalog.Clock
	cfg    Config
	logger *zap.Logger
}

// New builds a Sweeper.
func New(repo catalog.Repository, sites map[catalog.Site]ingest.Site, clock catalog.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{repo: repo, sites: sites, clock: clock, cfg: cfg, logger: logger}
}

// Recheck looks productID up at its source by item code. A product the
// source no longer returns is marked unavailable. Either way only
// availability and modified_at are written.
func (s *Sweeper) Recheck(ctx context.Context, productID string) (Outcome, error) {
	site, code, err := catalog.SplitID(productID)
	if err != nil {
		return "", err
	}
	remote, ok := s.sites[site]
	if !ok {
		return "", &catalog.ConfigurationError{Key: "sources." + string(site), Msg: "site not configured"}
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		s.logger.Debug("recheck skipped: product deleted", zap.String("product", productID))
		return OutcomeMissing, nil
	}
	if err != nil {
		return "", persistence("load product", err)
	}
	now := s.clock.Now().UTC()
	if !product.Stale(now, s.cfg.UpdateDelta) {
		s.logger.Debug("recheck skipped: product is fresh",
			zap.String("product", productID),
			zap.Time("modified_at", product.ModifiedAt),
		)
		return OutcomeFresh, nil
	}

	query := source.ItemQuery{ItemCode: code, Page: 1, Hits: 1}
	var page source.ItemPage
	err = remote.Pool.Acquire(ctx, func(cred catalog.Credential) error {
		var err error
		page, err = remote.Source.ItemSearch(ctx, cred, query)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("recheck %s: %w", productID, err)
	}

	patch := catalog.ProductPatch{ID: productID, ModifiedAt: now}
	outcome := OutcomeAvailable
	if len(page.Items) == 0 {
		unavailable := false
		patch.Availability = &unavailable
		outcome = OutcomeUnavailable
	}
	err = s.repo.UpdateProduct(ctx, patch)
	if errors.Is(err, catalog.ErrNotFound) {
		return OutcomeMissing, nil
	}
	if err != nil {
		return "", persistence("update product", err)
	}
	s.logger.Info("product rechecked",
		zap.String("product", productID),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

// DeactivationResult lists the categories a sweep deactivated.
type DeactivationResult struct {
	Leaves []string
	Roots  []string
}

// DeactivateEmptyCategories walks every active level-1 category of site and
// deactivates its leaves that hold no active product. A root whose leaves
// are all empty is deactivated as well.
func (s *Sweeper) DeactivateEmptyCategories(ctx context.Context, site catalog.Site) (DeactivationResult, error) {
	roots, err := s.repo.CategoriesByLevel(ctx, site, 1)
	if err != nil {
		return DeactivationResult{}, persistence("list roots", err)
	}

	var res DeactivationResult
	for _, root := range roots {
		if root.Deactivated {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		leaves, err := s.leaves(ctx, root)
		if err != nil {
			return res, err
		}
		var (
			empty   []string
			emptied int
		)
		for _, leaf := range leaves {
			count, err := s.repo.CountCategoryProducts(ctx, leaf.ID, true)
			if err != nil {
				return res, persistence("count products", err)
			}
			if count > 0 {
				continue
			}
			emptied++
			if !leaf.Deactivated {
				empty = append(empty, leaf.ID)
			}
		}
		allEmpty := emptied == len(leaves)
		if allEmpty && !slices.Contains(empty, root.ID) {
			empty = append(empty, root.ID)
		}
		if len(empty) == 0 {
			continue
		}
		if err := s.repo.DeactivateCategories(ctx, empty); err != nil {
			return res, persistence("deactivate categories", err)
		}
		for _, id := range empty {
			if id == root.ID {
				res.Roots = append(res.Roots, id)
				continue
			}
			res.Leaves = append(res.Leaves, id)
		}
		s.logger.Info("empty categories deactivated",
			zap.String("root", root.ID),
			zap.Int("leaves", len(leaves)),
			zap.Int("deactivated", len(empty)),
			zap.Bool("root_deactivated", allEmpty),
		)
	}
	metrics.ObserveDeactivated(string(site), len(res.Leaves)+len(res.Roots))
	return res, nil
}

// leaves returns the childless descendants of root, or root itself when it
// has no children.
func (s *Sweeper) leaves(ctx context.Context, root catalog.Category) ([]catalog.Category, error) {
	var out []catalog.Category
	stack := []catalog.Category{root}
	seen := map[string]struct{}{root.ID: {}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children, err := s.repo.CategoryChildren(ctx, cur.ID)
		if err != nil {
			return nil, persistence("list children", err)
		}
		if len(children) == 0 {
			out = append(out, cur)
			continue
		}
		for _, child := range children {
			if _, dup := seen[child.ID]; dup {
				continue
			}
			seen[child.ID] = struct{}{}
			stack = append(stack, child)
		}
	}
	return out, nil
}

func persistence(op string, err error) error {
	if catalog.IsPersistence(err) || errors.Is(err, catalog.ErrNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &catalog.PersistenceError{Op: op, Err: err}
}
