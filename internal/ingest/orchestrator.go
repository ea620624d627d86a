package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/credential"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// Leaser runs fn under an exclusively leased credential.
type Leaser interface {
	Acquire(ctx context.Context, fn func(catalog.Credential) error) error
}

// OrchestratorConfig bounds the crawl.
type OrchestratorConfig struct {
	// MaxPages caps the item pages fanned out per category.
	MaxPages int
	// Hits is the page size requested from the source.
	Hits int
}

// Site bundles the per-site collaborators of the orchestrator.
type Site struct {
	Source source.Source
	Pool   Leaser
}

// Orchestrator issues remote calls and submits the tasks that persist and
// extend the crawl.
type Orchestrator struct {
	sites  map[catalog.Site]Site
	repo   catalog.Repository
	tasks  Submitter
	cfg    OrchestratorConfig
	logger *zap.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(sites map[catalog.Site]Site, repo catalog.Repository, tasks Submitter, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.Hits <= 0 {
		cfg.Hits = source.MaxHits
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{sites: sites, repo: repo, tasks: tasks, cfg: cfg, logger: logger}
}

func (o *Orchestrator) site(site catalog.Site) (Site, error) {
	s, ok := o.sites[site]
	if !ok {
		return Site{}, &catalog.ConfigurationError{Key: "sources." + string(site), Msg: "site not configured"}
	}
	return s, nil
}

// ParseGenres fetches one category node and submits save_genre for it.
func (o *Orchestrator) ParseGenres(ctx context.Context, site catalog.Site, genreID string, parseMore bool) error {
	s, err := o.site(site)
	if err != nil {
		return err
	}
	if genreID == "" {
		genreID = "0"
	}
	var node source.CategoryNode
	err = s.Pool.Acquire(ctx, func(cred catalog.Credential) error {
		var err error
		node, err = s.Source.CategoriesSearch(ctx, cred, genreID)
		return err
	})
	if err != nil {
		return o.halt(site, "parse_genres", err)
	}
	return o.tasks.SaveGenre(ctx, site, node, parseMore)
}

// ParseItems fetches one item page of categoryID and submits save_items.
// Page 1 with parseAll fans out the remaining pages up to MaxPages.
func (o *Orchestrator) ParseItems(ctx context.Context, site catalog.Site, categoryID string, parseAll bool, page int) error {
	s, err := o.site(site)
	if err != nil {
		return err
	}
	if page <= 0 {
		page = 1
	}
	localID := LocalizeID(site, categoryID)
	_, remoteID, err := catalog.SplitID(localID)
	if err != nil {
		return err
	}

	cat, err := o.repo.GetCategory(ctx, localID)
	switch {
	case err == nil && cat.Deactivated:
		o.logger.Debug("skipping deactivated category", zap.String("category", localID))
		return nil
	case err != nil && !errors.Is(err, catalog.ErrNotFound):
		return persistence("load category", err)
	}

	query := source.ItemQuery{CategoryID: remoteID, Page: page, Hits: o.cfg.Hits}
	var result source.ItemPage
	err = s.Pool.Acquire(ctx, func(cred catalog.Credential) error {
		var err error
		result, err = s.Source.ItemSearch(ctx, cred, query)
		return err
	})
	if err != nil {
		return o.halt(site, "parse_items", err)
	}

	if len(result.Items) > 0 || len(result.TagGroups) > 0 {
		if err := o.tasks.SaveItems(ctx, site, localID, result.Items, result.TagGroups); err != nil {
			return err
		}
	}
	if page != 1 || !parseAll {
		return nil
	}
	last := min(result.TotalPages, o.cfg.MaxPages)
	for p := 2; p <= last; p++ {
		if err := o.tasks.ParseItems(ctx, site, localID, false, p); err != nil {
			return err
		}
	}
	o.logger.Info("item pages fanned out",
		zap.String("site", string(site)),
		zap.String("category", localID),
		zap.Int("total_pages", result.TotalPages),
		zap.Int("submitted", max(last-1, 0)),
	)
	return nil
}

// ParseTag looks up one tag and submits update_or_create_tag for it.
func (o *Orchestrator) ParseTag(ctx context.Context, site catalog.Site, tagID string) error {
	s, err := o.site(site)
	if err != nil {
		return err
	}
	var group source.TagGroup
	err = s.Pool.Acquire(ctx, func(cred catalog.Credential) error {
		var err error
		group, err = s.Source.TagSearch(ctx, cred, tagID)
		return err
	})
	if errors.Is(err, catalog.ErrNotFound) {
		o.logger.Debug("tag not found upstream", zap.String("site", string(site)), zap.String("tag", tagID))
		return nil
	}
	if err != nil {
		return o.halt(site, "parse_tag", err)
	}
	if group.ID == "" || len(group.Tags) == 0 {
		return nil
	}
	return o.tasks.UpdateOrCreateTag(ctx, site, group)
}

// RequestRecheck submits an availability recheck for productID.
func (o *Orchestrator) RequestRecheck(ctx context.Context, productID string) error {
	if _, _, err := catalog.SplitID(productID); err != nil {
		return err
	}
	return o.tasks.CheckProductAvailability(ctx, productID)
}

func (o *Orchestrator) halt(site catalog.Site, task string, err error) error {
	if credential.IsExhausted(err) {
		o.logger.Error("credentials exhausted; halting site",
			zap.String("site", string(site)),
			zap.String("task", task),
		)
	}
	return fmt.Errorf("%s %s: %w", task, site, err)
}
