package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// GenreResult reports what SaveGenre changed.
type GenreResult struct {
	Inserted []string
}

// SaveGenre stores node.Current and its children when unknown. Existing rows
// are never modified and missing children are never removed. With parseMore
// every child is crawled next, and a childless node has its items fetched.
func (e *Engine) SaveGenre(ctx context.Context, site catalog.Site, node source.CategoryNode, parseMore bool) (GenreResult, error) {
	if node.Current.ID == "" {
		return GenreResult{}, &catalog.DataShapeError{Field: "current.id"}
	}
	currentID := LocalizeID(site, node.Current.ID.String())

	var inserted []catalog.Category
	err := e.store.InTx(ctx, func(repo catalog.Repository) error {
		ids := []string{currentID}
		for _, child := range node.Children {
			ids = append(ids, LocalizeID(site, child.ID.String()))
		}
		known, err := repo.ExistingCategoryIDs(ctx, ids)
		if err != nil {
			return persistence("lookup categories", err)
		}

		var rows []catalog.Category
		queue := func(c catalog.Category) {
			if _, ok := known[c.ID]; ok {
				return
			}
			known[c.ID] = struct{}{}
			rows = append(rows, c)
		}
		queue(catalog.Category{
			ID:     currentID,
			Site:   site,
			SiteID: node.Current.ID.String(),
			Name:   strings.TrimSpace(node.Current.Name),
			Level:  node.Current.Level,
		})
		for _, child := range node.Children {
			if child.ID == "" {
				e.logger.Warn("skipping child category without id", zap.String("parent", currentID))
				continue
			}
			parent := currentID
			queue(catalog.Category{
				ID:       LocalizeID(site, child.ID.String()),
				Site:     site,
				SiteID:   child.ID.String(),
				Name:     strings.TrimSpace(child.Name),
				Level:    child.Level,
				ParentID: &parent,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := repo.InsertCategories(ctx, rows); err != nil {
			return persistence("insert categories", err)
		}
		inserted = rows
		return nil
	})
	if err != nil {
		return GenreResult{}, err
	}

	result := GenreResult{Inserted: make([]string, 0, len(inserted))}
	for _, c := range inserted {
		result.Inserted = append(result.Inserted, c.ID)
		e.translate(ctx, catalog.EntityCategory, c.ID, map[string]string{"name": c.Name})
	}
	e.logger.Debug("genre saved",
		zap.String("site", string(site)),
		zap.String("category", currentID),
		zap.Int("children", len(node.Children)),
		zap.Int("inserted", len(inserted)),
	)

	if !parseMore {
		return result, nil
	}
	if len(node.Children) == 0 {
		if currentID != catalog.VirtualRootID(site) {
			if err := e.tasks.ParseItems(ctx, site, currentID, true, 1); err != nil {
				return result, err
			}
		}
		return result, nil
	}
	for _, child := range node.Children {
		if child.ID == "" {
			continue
		}
		if err := e.tasks.ParseGenres(ctx, site, child.ID.String(), true); err != nil {
			return result, err
		}
	}
	return result, nil
}
