package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type submitted struct {
	Name string
	Args []any
}

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []submitted
	err   error
}

func (s *recordingSubmitter) record(name string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submitted{Name: name, Args: args})
	return s.err
}

func (s *recordingSubmitter) named(name string) []submitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []submitted
	for _, c := range s.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (s *recordingSubmitter) ParseGenres(_ context.Context, site catalog.Site, genreID string, parseMore bool) error {
	return s.record("parse_genres", site, genreID, parseMore)
}

func (s *recordingSubmitter) SaveGenre(_ context.Context, site catalog.Site, node source.CategoryNode, parseMore bool) error {
	return s.record("save_genre", site, node, parseMore)
}

func (s *recordingSubmitter) ParseItems(_ context.Context, site catalog.Site, categoryID string, parseAll bool, page int) error {
	return s.record("parse_items", site, categoryID, parseAll, page)
}

func (s *recordingSubmitter) SaveItems(_ context.Context, site catalog.Site, categoryID string, items []json.RawMessage, groups []source.TagGroup) error {
	return s.record("save_items", site, categoryID, items, groups)
}

func (s *recordingSubmitter) ParseTag(_ context.Context, site catalog.Site, tagID string) error {
	return s.record("parse_tag", site, tagID)
}

func (s *recordingSubmitter) UpdateOrCreateTag(_ context.Context, site catalog.Site, group source.TagGroup) error {
	return s.record("update_or_create_tag", site, group)
}

func (s *recordingSubmitter) CheckProductAvailability(_ context.Context, productID string) error {
	return s.record("check_product_availability", productID)
}

func (s *recordingSubmitter) TranslateField(_ context.Context, entity catalog.Entity, id, field, text string) error {
	return s.record("translate_field", entity, id, field, text)
}

type fakeLeaser struct {
	cred  catalog.Credential
	err   error
	calls int
}

func (l *fakeLeaser) Acquire(_ context.Context, fn func(catalog.Credential) error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn(l.cred)
}

type fakeSource struct {
	nodes   map[string]source.CategoryNode
	pages   map[string]source.ItemPage
	groups  map[string]source.TagGroup
	queries []source.ItemQuery
	err     error
}

func (f *fakeSource) Site() catalog.Site {
	return catalog.SiteRakuten
}

func (f *fakeSource) CategoriesSearch(_ context.Context, _ catalog.Credential, parentID string) (source.CategoryNode, error) {
	if f.err != nil {
		return source.CategoryNode{}, f.err
	}
	return f.nodes[parentID], nil
}

func (f *fakeSource) ItemSearch(_ context.Context, _ catalog.Credential, q source.ItemQuery) (source.ItemPage, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return source.ItemPage{}, f.err
	}
	return f.pages[fmt.Sprintf("%s/%d", q.CategoryID, q.Page)], nil
}

func (f *fakeSource) TagSearch(_ context.Context, _ catalog.Credential, tagID string) (source.TagGroup, error) {
	if f.err != nil {
		return source.TagGroup{}, f.err
	}
	g, ok := f.groups[tagID]
	if !ok {
		return source.TagGroup{}, catalog.ErrNotFound
	}
	return g, nil
}
