package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

const minCacheSize = 4

// Submitter enqueues sale price recomputation.
type Submitter interface {
	UpdateProductSalePrice(ctx context.Context, productID string) error
}

// Config tunes the rate cache.
type Config struct {
	// MainCurrency is the display currency used when a caller names none.
	// Defaults to yen.
	MainCurrency catalog.Currency
	CacheSize    int
	// CacheTTL bounds how long another process's conversion writes may go
	// unseen. Zero keeps entries until Invalidate.
	CacheTTL time.Duration
}

type rateKey struct {
	from catalog.Currency
	to   catalog.Currency
}

type rateEntry struct {
	rate decimal.Decimal
	ok   bool
}

// Engine computes prices and keeps derived sale prices current.
type Engine struct {
	store  catalog.Store
	tasks  Submitter
	clock  catalog.Clock
	main   catalog.Currency
	rates  *expirable.LRU[rateKey, rateEntry]
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(store catalog.Store, tasks Submitter, clock catalog.Clock, cfg Config, logger *zap.Logger) *Engine {
	size := max(cfg.CacheSize, minCacheSize)
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MainCurrency == "" {
		cfg.MainCurrency = catalog.Yen
	}
	return &Engine{
		store:  store,
		tasks:  tasks,
		clock:  clock,
		main:   cfg.MainCurrency,
		rates:  expirable.NewLRU[rateKey, rateEntry](size, nil, cfg.CacheTTL),
		logger: logger,
	}
}

// Rate returns the newest operator rate from→to. ok is false when no rate
// is configured; missing rates are cached too.
func (e *Engine) Rate(ctx context.Context, from, to catalog.Currency) (decimal.Decimal, bool, error) {
	if from == to {
		return decimal.NewFromInt(1), true, nil
	}
	key := rateKey{from: from, to: to}
	if entry, hit := e.rates.Get(key); hit {
		return entry.rate, entry.ok, nil
	}
	conv, err := e.store.LatestConversion(ctx, from, to)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		e.rates.Add(key, rateEntry{})
		return decimal.Zero, false, nil
	case err != nil:
		return decimal.Zero, false, fmt.Errorf("load conversion %s->%s: %w", from, to, err)
	}
	e.rates.Add(key, rateEntry{rate: conv.PricePer, ok: true})
	return conv.PricePer, true, nil
}

// Invalidate drops every cached rate.
func (e *Engine) Invalidate() {
	e.rates.Purge()
}

// MainCurrency returns the fallback display currency.
func (e *Engine) MainCurrency() catalog.Currency {
	return e.main
}

// Price returns the marked-up price of p in target, or in the main currency
// when target is empty. ok is false when no conversion into target exists.
func (e *Engine) Price(ctx context.Context, p catalog.Product, target catalog.Currency) (decimal.Decimal, bool, error) {
	if target == "" {
		target = e.main
	}
	src, err := catalog.CurrencyOf(p.ID)
	if err != nil {
		return decimal.Zero, false, err
	}
	base := MarkedUp(p.SitePrice, p.IncreasePer)
	if target == src {
		return base, true, nil
	}
	rate, ok, err := e.Rate(ctx, src, target)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	return base.Mul(rate), true, nil
}

// DisplayPrice is Price rounded for display.
func (e *Engine) DisplayPrice(ctx context.Context, p catalog.Product, target catalog.Currency) (decimal.Decimal, bool, error) {
	price, ok, err := e.Price(ctx, p, target)
	if err != nil || !ok {
		return decimal.Zero, ok, err
	}
	return Display(price), true, nil
}

// SaveConversion stores a new rate row and drops the cache.
func (e *Engine) SaveConversion(ctx context.Context, from, to catalog.Currency, pricePer decimal.Decimal) (catalog.Conversion, error) {
	if from == to {
		return catalog.Conversion{}, &catalog.ConfigurationError{Key: "conversion", Msg: "from and to must differ"}
	}
	if !pricePer.IsPositive() {
		return catalog.Conversion{}, &catalog.ConfigurationError{Key: "conversion.price_per", Msg: "must be positive"}
	}
	conv, err := e.store.InsertConversion(ctx, catalog.Conversion{
		From: from, To: to, PricePer: pricePer, CreatedAt: e.clock.Now().UTC(),
	})
	if err != nil {
		return catalog.Conversion{}, fmt.Errorf("save conversion: %w", err)
	}
	e.Invalidate()
	e.logger.Info("conversion saved",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("price_per", pricePer.String()),
	)
	return conv, nil
}

// SaveDiscount attaches a percentage to a promotion and schedules sale price
// recomputation for its products.
func (e *Engine) SaveDiscount(ctx context.Context, promotionID int64, percentage decimal.Decimal) error {
	if !ValidPercentage(percentage) {
		return &catalog.ConfigurationError{Key: "discount.percentage", Msg: "must be within [0, 100]"}
	}
	if err := e.store.SaveDiscount(ctx, catalog.Discount{PromotionID: promotionID, Percentage: percentage}); err != nil {
		return fmt.Errorf("save discount: %w", err)
	}
	return e.resubmit(ctx, promotionID)
}

// DeleteDiscount removes a promotion's discount and schedules recomputation.
func (e *Engine) DeleteDiscount(ctx context.Context, promotionID int64) error {
	if err := e.store.DeleteDiscount(ctx, promotionID); err != nil {
		return fmt.Errorf("delete discount: %w", err)
	}
	return e.resubmit(ctx, promotionID)
}

func (e *Engine) resubmit(ctx context.Context, promotionID int64) error {
	promo, err := e.store.GetPromotion(ctx, promotionID)
	if err != nil {
		return fmt.Errorf("load promotion %d: %w", promotionID, err)
	}
	for _, id := range promo.ProductIDs {
		if err := e.tasks.UpdateProductSalePrice(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProductSalePrice recomputes the sale price of every active inventory
// of productID from its currently active discount. Without one, or with a
// zero discount, sale prices are cleared.
func (e *Engine) UpdateProductSalePrice(ctx context.Context, productID string) error {
	product, err := e.store.GetProduct(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		e.logger.Debug("sale price target gone", zap.String("product", productID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}

	percentage := decimal.Zero
	promo, err := e.store.ActivePromotionForProduct(ctx, productID, e.clock.Now().UTC())
	switch {
	case err == nil && promo.Discount != nil:
		percentage = promo.Discount.Percentage
	case err != nil && !errors.Is(err, catalog.ErrNotFound):
		return fmt.Errorf("load promotion: %w", err)
	}

	return e.store.InTx(ctx, func(repo catalog.Repository) error {
		inventories, err := repo.ProductInventories(ctx, productID)
		if err != nil {
			return err
		}
		for _, inv := range inventories {
			if !inv.IsActive {
				continue
			}
			var sale *decimal.Decimal
			if !percentage.IsZero() {
				unit := inv.SiteUnitPrice
				if unit.IsZero() {
					unit = product.SitePrice
				}
				v := AfterDiscount(MarkedUp(unit, product.IncreasePer), percentage)
				sale = &v
			}
			if err := repo.SetInventorySalePrice(ctx, inv.ID, sale); err != nil {
				return err
			}
		}
		return nil
	})
}
