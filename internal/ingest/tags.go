package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// TagInput is a tag as carried by a save_tags payload. An empty GroupID
// marks a group header.
type TagInput struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GroupID string `json:"group_id,omitempty"`
}

// TagResult reports what a tag payload changed.
type TagResult struct {
	Inserted  []string
	Regrouped []string
	Renamed   []string
}

func (r *TagResult) merge(other TagResult) {
	r.Inserted = append(r.Inserted, other.Inserted...)
	r.Regrouped = append(r.Regrouped, other.Regrouped...)
	r.Renamed = append(r.Renamed, other.Renamed...)
}

// SaveTags inserts unknown tags in one batch. Known tags without a group are
// attached to the incoming group; nothing else about known tags changes.
func (e *Engine) SaveTags(ctx context.Context, site catalog.Site, tags []TagInput) (TagResult, error) {
	var result TagResult
	err := e.store.InTx(ctx, func(repo catalog.Repository) error {
		var err error
		result, err = e.saveTagsTx(ctx, repo, toTags(site, tags))
		return err
	})
	if err != nil {
		return TagResult{}, err
	}
	e.translateTags(ctx, result.Inserted, tags, site)
	return result, nil
}

// SaveTagsFromGroups stores unknown groups first and then their unknown tags.
func (e *Engine) SaveTagsFromGroups(ctx context.Context, site catalog.Site, groups []source.TagGroup) (TagResult, error) {
	var result TagResult
	err := e.store.InTx(ctx, func(repo catalog.Repository) error {
		var err error
		result, err = e.saveGroupsTx(ctx, repo, site, groups)
		return err
	})
	if err != nil {
		return TagResult{}, err
	}
	e.translateTags(ctx, result.Inserted, flattenGroups(groups), site)
	return result, nil
}

// UpdateOrCreateTag applies a single-tag payload: unknown tags are created
// under their group; known tags are renamed and reparented when they differ.
func (e *Engine) UpdateOrCreateTag(ctx context.Context, site catalog.Site, group source.TagGroup) (TagResult, error) {
	if group.ID == "" {
		return TagResult{}, &catalog.DataShapeError{Field: "group.id"}
	}
	if len(group.Tags) == 0 {
		return TagResult{}, &catalog.DataShapeError{Field: "group.tags"}
	}

	var result TagResult
	err := e.store.InTx(ctx, func(repo catalog.Repository) error {
		groupOnly := source.TagGroup{ID: group.ID, Name: group.Name}
		created, err := e.saveGroupsTx(ctx, repo, site, []source.TagGroup{groupOnly})
		if err != nil {
			return err
		}
		result.merge(created)

		groupID := LocalizeID(site, group.ID.String())
		for _, remote := range group.Tags {
			tagID := LocalizeID(site, remote.ID.String())
			name := strings.TrimSpace(remote.Name)
			existing, err := repo.GetTags(ctx, []string{tagID})
			if err != nil {
				return persistence("lookup tag", err)
			}
			current, ok := existing[tagID]
			if !ok {
				if _, err := repo.InsertTags(ctx, []catalog.Tag{{
					ID: tagID, Site: site, SiteID: remote.ID.String(), Name: name, GroupID: &groupID,
				}}); err != nil {
					return persistence("insert tag", err)
				}
				result.Inserted = append(result.Inserted, tagID)
				continue
			}

			changed := false
			if name != "" && current.Name != name {
				current.Name = name
				result.Renamed = append(result.Renamed, tagID)
				changed = true
			}
			if current.GroupID == nil || *current.GroupID != groupID {
				current.GroupID = &groupID
				result.Regrouped = append(result.Regrouped, tagID)
				changed = true
			}
			if !changed {
				continue
			}
			if err := repo.UpdateTag(ctx, current); err != nil {
				return persistence("update tag", err)
			}
		}
		return nil
	})
	if err != nil {
		return TagResult{}, err
	}

	all := flattenGroups([]source.TagGroup{group})
	e.translateTags(ctx, result.Inserted, all, site)
	e.translateTags(ctx, result.Renamed, all, site)
	return result, nil
}

func (e *Engine) saveGroupsTx(ctx context.Context, repo catalog.Repository, site catalog.Site, groups []source.TagGroup) (TagResult, error) {
	var headers []catalog.Tag
	var members []catalog.Tag
	for _, g := range groups {
		if g.ID == "" {
			e.logger.Warn("skipping tag group without id", zap.String("site", string(site)))
			continue
		}
		groupID := LocalizeID(site, g.ID.String())
		headers = append(headers, catalog.Tag{
			ID: groupID, Site: site, SiteID: g.ID.String(), Name: strings.TrimSpace(g.Name),
		})
		for _, t := range g.Tags {
			if t.ID == "" {
				continue
			}
			gid := groupID
			members = append(members, catalog.Tag{
				ID: LocalizeID(site, t.ID.String()), Site: site, SiteID: t.ID.String(),
				Name: strings.TrimSpace(t.Name), GroupID: &gid,
			})
		}
	}

	var result TagResult
	first, err := e.saveTagsTx(ctx, repo, headers)
	if err != nil {
		return TagResult{}, err
	}
	result.merge(first)
	second, err := e.saveTagsTx(ctx, repo, members)
	if err != nil {
		return TagResult{}, err
	}
	result.merge(second)
	return result, nil
}

func (e *Engine) saveTagsTx(ctx context.Context, repo catalog.Repository, tags []catalog.Tag) (TagResult, error) {
	var result TagResult
	if len(tags) == 0 {
		return result, nil
	}
	ids := make([]string, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, t.ID)
	}
	existing, err := repo.GetTags(ctx, ids)
	if err != nil {
		return TagResult{}, persistence("lookup tags", err)
	}

	var fresh []catalog.Tag
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}

		current, ok := existing[t.ID]
		if !ok {
			fresh = append(fresh, t)
			continue
		}
		if current.GroupID == nil && t.GroupID != nil && *t.GroupID != current.ID {
			current.GroupID = t.GroupID
			if err := repo.UpdateTag(ctx, current); err != nil {
				return TagResult{}, persistence("set tag group", err)
			}
			result.Regrouped = append(result.Regrouped, t.ID)
		}
	}
	if len(fresh) > 0 {
		if _, err := repo.InsertTags(ctx, fresh); err != nil {
			return TagResult{}, persistence("insert tags", err)
		}
		for _, t := range fresh {
			result.Inserted = append(result.Inserted, t.ID)
		}
	}
	return result, nil
}

func (e *Engine) translateTags(ctx context.Context, ids []string, tags []TagInput, site catalog.Site) {
	if len(ids) == 0 {
		return
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[LocalizeID(site, t.ID)] = t.Name
	}
	for _, id := range ids {
		e.translate(ctx, catalog.EntityTag, id, map[string]string{"name": names[id]})
	}
}

func toTags(site catalog.Site, in []TagInput) []catalog.Tag {
	out := make([]catalog.Tag, 0, len(in))
	for _, t := range in {
		if strings.TrimSpace(t.ID) == "" {
			continue
		}
		tag := catalog.Tag{
			ID:     LocalizeID(site, t.ID),
			Site:   site,
			SiteID: strings.TrimPrefix(t.ID, string(site)+":"),
			Name:   strings.TrimSpace(t.Name),
		}
		if t.GroupID != "" {
			gid := LocalizeID(site, t.GroupID)
			tag.GroupID = &gid
		}
		out = append(out, tag)
	}
	return out
}

func flattenGroups(groups []source.TagGroup) []TagInput {
	var out []TagInput
	for _, g := range groups {
		out = append(out, TagInput{ID: g.ID.String(), Name: g.Name})
		for _, t := range g.Tags {
			out = append(out, TagInput{ID: t.ID.String(), Name: t.Name, GroupID: g.ID.String()})
		}
	}
	return out
}
