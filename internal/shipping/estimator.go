// Package shipping estimates the delivery cost of a category's typical parcel.
package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source/fedex"
)

const defaultTTL = 6 * time.Hour

// Quoter prices one parcel.
type Quoter interface {
	RateQuote(ctx context.Context, req fedex.QuoteRequest) (fedex.Quote, error)
}

// CategoryReader loads a category.
type CategoryReader interface {
	GetCategory(ctx context.Context, id string) (catalog.Category, error)
}

// Config tunes the Estimator.
type Config struct {
	// TTL is how long a quote is served from the cache.
	TTL time.Duration
}

// Estimator quotes shipping by category average weight and caches quotes.
type Estimator struct {
	categories CategoryReader
	quoter     Quoter
	cache      catalog.Cache
	cfg        Config
	logger     *zap.Logger
}

// NewEstimator builds an Estimator.
func NewEstimator(categories CategoryReader, quoter Quoter, cache catalog.Cache, cfg Config, logger *zap.Logger) *Estimator {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{categories: categories, quoter: quoter, cache: cache, cfg: cfg, logger: logger}
}

// CacheKey is the KV key a quote is stored under.
func CacheKey(categoryID, country, postal string) string {
	return fmt.Sprintf("shipping_quote:%s:%s:%s", categoryID, country, postal)
}

// Estimate returns the cheapest quote for a parcel of the category's
// average weight sent to country/postal.
func (e *Estimator) Estimate(ctx context.Context, categoryID, country, postal string) (fedex.Quote, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	postal = strings.TrimSpace(postal)
	key := CacheKey(categoryID, country, postal)

	if raw, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("shipping cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var q fedex.Quote
		if err := json.Unmarshal([]byte(raw), &q); err == nil {
			return q, nil
		}
		e.logger.Warn("dropping malformed cached quote", zap.String("key", key))
	}

	cat, err := e.categories.GetCategory(ctx, categoryID)
	if err != nil {
		return fedex.Quote{}, fmt.Errorf("load category %s: %w", categoryID, err)
	}
	if cat.AvgWeight == nil || !cat.AvgWeight.IsPositive() {
		return fedex.Quote{}, &catalog.ConfigurationError{
			Key: "categories." + categoryID + ".avg_weight",
			Msg: "average weight not set",
		}
	}

	quote, err := e.quoter.RateQuote(ctx, fedex.QuoteRequest{
		Recipient: fedex.Address{PostalCode: postal, CountryCode: country},
		WeightKG:  *cat.AvgWeight,
	})
	if err != nil {
		return fedex.Quote{}, err
	}

	payload, err := json.Marshal(quote)
	if err != nil {
		return quote, fmt.Errorf("encode quote: %w", err)
	}
	if err := e.cache.Set(ctx, key, string(payload), e.cfg.TTL); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("shipping cache write failed", zap.String("key", key), zap.Error(err))
	}
	e.logger.Info("shipping quoted",
		zap.String("category", categoryID),
		zap.String("country", country),
		zap.String("service", quote.ServiceType),
		zap.String("amount", quote.Amount.String()),
	)
	return quote, nil
}
