package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// Submitter enqueues the follow-up tasks produced by ingestion.
type Submitter interface {
	ParseGenres(ctx context.Context, site catalog.Site, genreID string, parseMore bool) error
	SaveGenre(ctx context.Context, site catalog.Site, node source.CategoryNode, parseMore bool) error
	ParseItems(ctx context.Context, site catalog.Site, categoryID string, parseAll bool, page int) error
	SaveItems(ctx context.Context, site catalog.Site, categoryID string, items []json.RawMessage, groups []source.TagGroup) error
	ParseTag(ctx context.Context, site catalog.Site, tagID string) error
	UpdateOrCreateTag(ctx context.Context, site catalog.Site, group source.TagGroup) error
	CheckProductAvailability(ctx context.Context, productID string) error
	TranslateField(ctx context.Context, entity catalog.Entity, id, field, text string) error
}

// EngineConfig tunes the upsert engine.
type EngineConfig struct {
	// UpdateDelta is the freshness window; younger products are not rewritten.
	UpdateDelta time.Duration
	// DefaultIncreasePer is the markup percentage given to new products.
	DefaultIncreasePer decimal.Decimal
	// MaxTagLookups bounds the parse_tag submissions made for one item page.
	MaxTagLookups int
	// Translate enables translate_field submissions for new rows.
	Translate bool
}

// Engine applies remote payloads to the store.
type Engine struct {
	store  catalog.Store
	tasks  Submitter
	clock  catalog.Clock
	fields map[catalog.Site]FieldMap
	cfg    EngineConfig
	logger *zap.Logger
}

// NewEngine builds an Engine. fields defaults to DefaultFieldMaps.
func NewEngine(store catalog.Store, tasks Submitter, clock catalog.Clock, fields map[catalog.Site]FieldMap, cfg EngineConfig, logger *zap.Logger) *Engine {
	if fields == nil {
		fields = DefaultFieldMaps()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTagLookups < 0 {
		cfg.MaxTagLookups = 0
	}
	return &Engine{store: store, tasks: tasks, clock: clock, fields: fields, cfg: cfg, logger: logger}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) fieldMap(site catalog.Site) (FieldMap, error) {
	m, ok := e.fields[site]
	if !ok {
		return FieldMap{}, &catalog.ConfigurationError{Key: "fields." + string(site), Msg: "no field map for site"}
	}
	return m, nil
}

// translate submits translate_field for each non-empty text. Failures are
// logged; translations never fail the payload that produced them.
func (e *Engine) translate(ctx context.Context, entity catalog.Entity, id string, fields map[string]string) {
	if !e.cfg.Translate {
		return
	}
	for _, field := range catalog.TranslatableFields[entity] {
		text := fields[field]
		if text == "" {
			continue
		}
		if err := e.tasks.TranslateField(ctx, entity, id, field, text); err != nil {
			e.logger.Warn("submit translate_field failed",
				zap.String("entity", string(entity)),
				zap.String("id", id),
				zap.String("field", field),
				zap.Error(err),
			)
		}
	}
}

// LocalizeID returns id with the site prefix, accepting either a bare remote
// id or one that already carries the prefix.
func LocalizeID(site catalog.Site, id string) string {
	if s, _, err := catalog.SplitID(id); err == nil && s == site {
		return id
	}
	return catalog.LocalID(site, id)
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if catalog.IsPersistence(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &catalog.PersistenceError{Op: op, Err: err}
}
