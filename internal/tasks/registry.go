package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/ingest"
	"github.com/JakeFAU/catalog-ingest/internal/source"
	"github.com/JakeFAU/catalog-ingest/internal/source/fedex"
	"github.com/JakeFAU/catalog-ingest/internal/sweeper"
	"github.com/JakeFAU/catalog-ingest/internal/translate"
	"github.com/JakeFAU/catalog-ingest/internal/worker"
)

// Ingestor applies remote payloads to the store.
type Ingestor interface {
	SaveGenre(ctx context.Context, site catalog.Site, node source.CategoryNode, parseMore bool) (ingest.GenreResult, error)
	SaveItems(ctx context.Context, site catalog.Site, categoryID string, raw []json.RawMessage, groups []source.TagGroup) (ingest.ItemsResult, error)
	UpdateItems(ctx context.Context, site catalog.Site, raw []json.RawMessage) (ingest.ItemsResult, error)
	SaveTags(ctx context.Context, site catalog.Site, tags []ingest.TagInput) (ingest.TagResult, error)
	SaveTagsFromGroups(ctx context.Context, site catalog.Site, groups []source.TagGroup) (ingest.TagResult, error)
	UpdateOrCreateTag(ctx context.Context, site catalog.Site, group source.TagGroup) (ingest.TagResult, error)
	ClearProducts(ctx context.Context, site catalog.Site, cfg ingest.ReclaimConfig) (ingest.ReclaimResult, error)
}

// Crawler issues remote calls for the crawl.
type Crawler interface {
	ParseGenres(ctx context.Context, site catalog.Site, genreID string, parseMore bool) error
	ParseItems(ctx context.Context, site catalog.Site, categoryID string, parseAll bool, page int) error
	ParseTag(ctx context.Context, site catalog.Site, tagID string) error
}

// Pricer recomputes sale prices.
type Pricer interface {
	UpdateProductSalePrice(ctx context.Context, productID string) error
}

// Sweeper rechecks products and deactivates empty categories.
type Sweeper interface {
	Recheck(ctx context.Context, productID string) (sweeper.Outcome, error)
	DeactivateEmptyCategories(ctx context.Context, site catalog.Site) (sweeper.DeactivationResult, error)
}

// Translator fans a field out to the target languages.
type Translator interface {
	TranslateField(ctx context.Context, entity catalog.Entity, id, field, text string) (translate.Result, error)
}

// Shipper quotes shipping for a category.
type Shipper interface {
	Estimate(ctx context.Context, categoryID, country, postal string) (fedex.Quote, error)
}

// Retries selects the retry policy of each task family.
type Retries struct {
	// Ingest covers crawl, upsert, pricing and maintenance tasks.
	Ingest worker.RetryPolicy
	// Recheck covers check_product_availability.
	Recheck worker.RetryPolicy
}

// Deps are the services behind the task handlers. A nil service leaves its
// tasks unregistered.
type Deps struct {
	Engine     Ingestor
	Crawler    Crawler
	Pricing    Pricer
	Sweeper    Sweeper
	Translator Translator
	Shipping   Shipper
	// Sites are swept when deactivate_empty_categories names no site.
	Sites   []catalog.Site
	Reclaim ingest.ReclaimConfig
	Retries Retries
}

// Registry maps task names to worker routes.
type Registry struct {
	routes map[string]worker.Route
	logger *zap.Logger
}

// NewRegistry wires every task whose service is present.
func NewRegistry(deps Deps, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Retries.Ingest == nil {
		deps.Retries.Ingest = worker.NewExponentialRetryPolicy(0, 0, 0)
	}
	if deps.Retries.Recheck == nil {
		deps.Retries.Recheck = worker.NewLinearRetryPolicy(0, 0)
	}
	r := &Registry{routes: map[string]worker.Route{}, logger: logger}
	ingestRetry := deps.Retries.Ingest

	if e := deps.Engine; e != nil {
		r.add(SaveGenre, ingestRetry, handle(func(ctx context.Context, a SaveGenreArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			_, err := e.SaveGenre(ctx, a.Site, a.Payload, a.ParseMore)
			return err
		}))
		r.add(SaveItems, ingestRetry, handle(func(ctx context.Context, a SaveItemsArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			if a.CategoryID == "" {
				return &catalog.DataShapeError{Field: "category_id"}
			}
			_, err := e.SaveItems(ctx, a.Site, a.CategoryID, a.Items, a.TagGroups)
			return err
		}))
		r.add(UpdateItems, ingestRetry, handle(func(ctx context.Context, a UpdateItemsArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			_, err := e.UpdateItems(ctx, a.Site, a.Items)
			return err
		}))
		r.add(SaveTags, ingestRetry, handle(func(ctx context.Context, a SaveTagsArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			_, err := e.SaveTags(ctx, a.Site, a.Tags)
			return err
		}))
		r.add(SaveTagsFromGroups, ingestRetry, handle(func(ctx context.Context, a SaveTagsFromGroupsArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			_, err := e.SaveTagsFromGroups(ctx, a.Site, a.Groups)
			return err
		}))
		r.add(UpdateOrCreateTag, ingestRetry, handle(func(ctx context.Context, a UpdateOrCreateTagArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			_, err := e.UpdateOrCreateTag(ctx, a.Site, a.Payload)
			return err
		}))
		reclaim := deps.Reclaim
		r.add(RakutenClearProducts, ingestRetry, handle(func(ctx context.Context, a SiteArgs) error {
			site := a.Site
			if site == "" {
				site = catalog.SiteRakuten
			}
			if err := validSite(site); err != nil {
				return err
			}
			res, err := e.ClearProducts(ctx, site, reclaim)
			if err != nil {
				return err
			}
			logger.Info("reclaim finished", zap.String("site", string(site)), zap.Int("deleted", res.Total()))
			return nil
		}))
	}

	if c := deps.Crawler; c != nil {
		r.add(ParseGenres, ingestRetry, handle(func(ctx context.Context, a ParseGenresArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			return c.ParseGenres(ctx, a.Site, a.GenreID, a.ParseMore)
		}))
		r.add(ParseItems, ingestRetry, handle(func(ctx context.Context, a ParseItemsArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			if a.CategoryID == "" {
				return &catalog.DataShapeError{Field: "category_id"}
			}
			return c.ParseItems(ctx, a.Site, a.CategoryID, a.ParseAll, a.Page)
		}))
		r.add(ParseTag, ingestRetry, handle(func(ctx context.Context, a ParseTagArgs) error {
			if err := validSite(a.Site); err != nil {
				return err
			}
			if a.TagID == "" {
				return &catalog.DataShapeError{Field: "tag_id"}
			}
			return c.ParseTag(ctx, a.Site, a.TagID)
		}))
	}

	if p := deps.Pricing; p != nil {
		r.add(UpdateProductSalePrice, ingestRetry, handle(func(ctx context.Context, a ProductArgs) error {
			if a.ProductID == "" {
				return &catalog.DataShapeError{Field: "product_id"}
			}
			return p.UpdateProductSalePrice(ctx, a.ProductID)
		}))
	}

	if s := deps.Sweeper; s != nil {
		r.add(CheckProductAvailability, deps.Retries.Recheck, handle(func(ctx context.Context, a ProductArgs) error {
			if a.ProductID == "" {
				return &catalog.DataShapeError{Field: "product_id"}
			}
			_, err := s.Recheck(ctx, a.ProductID)
			return err
		}))
		sites := deps.Sites
		r.add(DeactivateEmptyCategory, ingestRetry, handle(func(ctx context.Context, a SiteArgs) error {
			targets := sites
			if a.Site != "" {
				if err := validSite(a.Site); err != nil {
					return err
				}
				targets = []catalog.Site{a.Site}
			}
			for _, site := range targets {
				if _, err := s.DeactivateEmptyCategories(ctx, site); err != nil {
					return fmt.Errorf("deactivate %s: %w", site, err)
				}
			}
			return nil
		}))
	}

	if t := deps.Translator; t != nil {
		r.add(TranslateField, worker.NoRetry{}, handle(func(ctx context.Context, a TranslateFieldArgs) error {
			if a.ID == "" {
				return &catalog.DataShapeError{Field: "id"}
			}
			_, err := t.TranslateField(ctx, a.Entity, a.ID, a.Field, a.Text)
			return err
		}))
	}

	if sh := deps.Shipping; sh != nil {
		r.add(EstimateShipping, ingestRetry, handle(func(ctx context.Context, a EstimateShippingArgs) error {
			switch {
			case a.CategoryID == "":
				return &catalog.DataShapeError{Field: "category_id"}
			case a.Country == "":
				return &catalog.DataShapeError{Field: "country"}
			case a.PostalCode == "":
				return &catalog.DataShapeError{Field: "postal_code"}
			}
			q, err := sh.Estimate(ctx, a.CategoryID, a.Country, a.PostalCode)
			if err != nil {
				return err
			}
			logger.Debug("shipping estimate cached",
				zap.String("category", a.CategoryID),
				zap.String("amount", q.Amount.StringFixed(2)),
			)
			return nil
		}))
	}
	return r
}

func (r *Registry) add(name string, retry worker.RetryPolicy, h worker.Handler) {
	r.routes[name] = worker.Route{Handler: h, Retry: retry}
}

// Lookup implements worker.Router.
func (r *Registry) Lookup(name string) (worker.Route, bool) {
	route, ok := r.routes[name]
	return route, ok
}

// Registered lists the wired task names in declaration order.
func (r *Registry) Registered() []string {
	var out []string
	for _, name := range Names {
		if _, ok := r.routes[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func handle[T any](fn func(context.Context, T) error) worker.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var args T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return fmt.Errorf("%w: %v", &catalog.DataShapeError{Field: "args"}, err)
			}
		}
		return fn(ctx, args)
	}
}

func validSite(site catalog.Site) error {
	if !site.Valid() {
		return &catalog.DataShapeError{Field: "site", Record: string(site)}
	}
	return nil
}
