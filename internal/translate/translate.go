// Package translate renders translatable catalog fields into every target
// language and stores the results in the per-language columns.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// Translator turns text from one language into another.
type Translator interface {
	Translate(ctx context.Context, text string, from, to catalog.Lang) (string, error)
}

// Writer stores one translated column.
type Writer interface {
	SetTranslation(ctx context.Context, entity catalog.Entity, id, field string, lang catalog.Lang, value string) error
}

// Service fans a field out to all target languages. Failures of a single
// language are logged and skipped.
type Service struct {
	store      Writer
	translator Translator
	logger     *zap.Logger
}

// NewService builds a Service.
func NewService(store Writer, translator Translator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, translator: translator, logger: logger}
}

// Result counts the languages written by one TranslateField call.
type Result struct {
	Written int
	Failed  int
}

// TranslateField translates text and writes {field}_{lang} for every target language.
func (s *Service) TranslateField(ctx context.Context, entity catalog.Entity, id, field, text string) (Result, error) {
	if !catalog.Translatable(entity, field) {
		return Result{}, fmt.Errorf("%s.%s is not translatable", entity, field)
	}
	var res Result
	if strings.TrimSpace(text) == "" {
		return res, nil
	}
	logger := s.logger.With(
		zap.String("entity", string(entity)),
		zap.String("id", id),
		zap.String("field", field),
	)
	for _, lang := range catalog.TargetLangs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := s.translator.Translate(ctx, text, catalog.LangJA, lang)
		if err != nil {
			res.Failed++
			logger.Warn("translation failed", zap.String("lang", string(lang)), zap.Error(err))
			continue
		}
		err = s.store.SetTranslation(ctx, entity, id, field, lang, out)
		if errors.Is(err, catalog.ErrNotFound) {
			logger.Debug("translated row no longer exists")
			return res, nil
		}
		if err != nil {
			res.Failed++
			logger.Warn("store translation failed", zap.String("lang", string(lang)), zap.Error(err))
			continue
		}
		res.Written++
	}
	return res, nil
}
