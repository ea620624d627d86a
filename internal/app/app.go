// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/api"
	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
	"github.com/JakeFAU/catalog-ingest/internal/config"
	"github.com/JakeFAU/catalog-ingest/internal/credential"
	"github.com/JakeFAU/catalog-ingest/internal/dispatcher"
	"github.com/JakeFAU/catalog-ingest/internal/id/uuid"
	"github.com/JakeFAU/catalog-ingest/internal/ingest"
	kvmemory "github.com/JakeFAU/catalog-ingest/internal/kv/memory"
	kvredis "github.com/JakeFAU/catalog-ingest/internal/kv/redis"
	"github.com/JakeFAU/catalog-ingest/internal/pricing"
	"github.com/JakeFAU/catalog-ingest/internal/queue"
	qmemory "github.com/JakeFAU/catalog-ingest/internal/queue/memory"
	qredis "github.com/JakeFAU/catalog-ingest/internal/queue/redis"
	"github.com/JakeFAU/catalog-ingest/internal/ratelimit"
	"github.com/JakeFAU/catalog-ingest/internal/scheduler"
	"github.com/JakeFAU/catalog-ingest/internal/shipping"
	"github.com/JakeFAU/catalog-ingest/internal/source"
	"github.com/JakeFAU/catalog-ingest/internal/source/fedex"
	"github.com/JakeFAU/catalog-ingest/internal/source/rakuten"
	"github.com/JakeFAU/catalog-ingest/internal/source/uniqlo"
	memorystore "github.com/JakeFAU/catalog-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-ingest/internal/storage/postgres"
	"github.com/JakeFAU/catalog-ingest/internal/sweeper"
	"github.com/JakeFAU/catalog-ingest/internal/tasks"
	"github.com/JakeFAU/catalog-ingest/internal/translate"
	"github.com/JakeFAU/catalog-ingest/internal/worker"
)

const redisDialTimeout = 5 * time.Second

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  catalog.Clock

	store catalog.Store
	cache catalog.Cache
	redis goredis.UniversalClient
	queue queue.Queue

	tasks    *tasks.Client
	engine   *ingest.Engine
	crawler  *ingest.Orchestrator
	pricing  *pricing.Engine
	sweeper  *sweeper.Sweeper
	registry *tasks.Registry
	sites    []catalog.Site
	checks   map[string]api.Pinger

	closers []func()
}

// New builds every service selected by cfg. Connections opened before a
// failure are closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		checks: map[string]api.Pinger{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initRedis(ctx); err != nil {
		return nil, err
	}
	a.initCache()
	a.initQueue()
	a.tasks = tasks.NewClient(a.queue, uuid.New(), a.clock)

	if err := a.seedCredentials(ctx); err != nil {
		return nil, err
	}
	if err := a.initServices(ctx); err != nil {
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("cache", cfg.Cache.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.Strings("tasks", a.registry.Registered()),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.ProviderPostgres:
		st, err := pgstore.New(ctx, pgstore.StoreConfig{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.store = st
	default:
		a.logger.Warn("using in-memory store; data is lost on exit")
		a.store = memorystore.New()
	}
	a.closers = append(a.closers, a.store.Close)
	a.checks["store"] = a.store
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	if a.cfg.Cache.Provider != config.ProviderRedis && a.cfg.Queue.Provider != config.ProviderRedis {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	return nil
}

func (a *App) initCache() {
	if a.cfg.Cache.Provider == config.ProviderRedis {
		c := kvredis.NewWithClient(a.redis, a.cfg.Redis.KeyPrefix)
		a.cache = c
		a.checks["cache"] = c
		return
	}
	c := kvmemory.New(time.Minute)
	a.cache = c
	a.closers = append(a.closers, c.Close)
}

func (a *App) initQueue() {
	if a.cfg.Queue.Provider == config.ProviderRedis {
		a.queue = qredis.New(a.redis, qredis.Config{
			KeyPrefix:    a.cfg.Queue.KeyPrefix,
			PollInterval: a.cfg.Queue.PollInterval,
		})
		client := a.redis
		a.checks["queue"] = api.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	} else {
		a.queue = qmemory.NewQueue(a.cfg.Queue.Depth)
	}
	q := a.queue
	a.closers = append(a.closers, func() { _ = q.Close() })
}

func (a *App) seedCredentials(ctx context.Context) error {
	for _, cred := range a.cfg.CredentialSeeds() {
		if _, err := a.store.UpsertCredential(ctx, cred); err != nil {
			return fmt.Errorf("seed credential %s/%s: %w", cred.Site, cred.AppID, err)
		}
	}
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Sources.RPS, DefaultBurst: cfg.Sources.Burst})
	redact := append(append([]string{}, rakuten.RedactedParams...), uniqlo.RedactedParams...)
	httpClient := source.NewHTTPClient(nil, limiter, source.HTTPClientConfig{
		Timeout:   cfg.HTTP.Timeout(),
		UserAgent: cfg.HTTP.UserAgent,
		Redact:    redact,
	})
	poolCfg := credential.Config{
		Cooldown:     cfg.Credentials.CooldownDuration(),
		PollInterval: cfg.Credentials.PollInterval,
	}

	sites := map[catalog.Site]ingest.Site{
		catalog.SiteRakuten: {
			Source: rakuten.New(httpClient, cfg.Sources.Rakuten.BaseURL),
			Pool:   credential.NewPool(catalog.SiteRakuten, a.store, a.cache, poolCfg, a.logger.Named("credentials")),
		},
	}
	if cfg.Sources.CrawlerURL != "" {
		sites[catalog.SiteUniqlo] = ingest.Site{
			Source: uniqlo.New(httpClient, cfg.Sources.CrawlerURL),
			Pool:   credential.NewPool(catalog.SiteUniqlo, a.store, a.cache, poolCfg, a.logger.Named("credentials")),
		}
	}
	for _, site := range catalog.Sites {
		if _, ok := sites[site]; ok {
			a.sites = append(a.sites, site)
		}
	}

	a.engine = ingest.NewEngine(a.store, a.tasks, a.clock, nil, ingest.EngineConfig{
		UpdateDelta:        cfg.Ingest.UpdateDelta,
		DefaultIncreasePer: cfg.Pricing.IncreasePer(),
		MaxTagLookups:      cfg.Ingest.MaxTagLookups,
		Translate:          cfg.Ingest.Translate,
	}, a.logger.Named("ingest"))
	a.crawler = ingest.NewOrchestrator(sites, a.store, a.tasks, ingest.OrchestratorConfig{
		MaxPages: cfg.Ingest.MaxPages,
		Hits:     cfg.Ingest.Hits,
	}, a.logger.Named("orchestrator"))
	a.pricing = pricing.NewEngine(a.store, a.tasks, a.clock, pricing.Config{
		MainCurrency: cfg.MainCurrency(),
		CacheSize:    cfg.Pricing.RateCacheSize,
		CacheTTL:     cfg.Pricing.RateCacheTTL,
	}, a.logger.Named("pricing"))
	a.sweeper = sweeper.New(a.store, sites, a.clock, sweeper.Config{
		UpdateDelta: cfg.Ingest.UpdateDelta,
	}, a.logger.Named("sweeper"))

	deps := tasks.Deps{
		Engine:  a.engine,
		Crawler: a.crawler,
		Pricing: a.pricing,
		Sweeper: a.sweeper,
		Sites:   a.sites,
		Reclaim: a.ReclaimConfig(),
		Retries: tasks.Retries{
			Ingest:  worker.NewExponentialRetryPolicy(cfg.Retries.Max, cfg.Retries.BaseDelay, cfg.Retries.MaxDelay),
			Recheck: worker.NewLinearRetryPolicy(cfg.Retries.RecheckStep, cfg.Retries.Max),
		},
	}

	if cfg.Translator.URL != "" {
		tr, err := translate.NewHTTPTranslator(httpClient, translate.HTTPConfig{
			URL:    cfg.Translator.URL,
			APIKey: cfg.Translator.APIKey,
		})
		if err != nil {
			return fmt.Errorf("init translator: %w", err)
		}
		deps.Translator = translate.NewService(a.store, tr, a.logger.Named("translate"))
	}

	if cfg.Fedex.Enabled {
		quoter := fedex.New(ctx, fedex.Config{
			BaseURL:        cfg.Fedex.BaseURL,
			ClientID:       cfg.Fedex.ClientID,
			ClientSecret:   cfg.Fedex.ClientSecret,
			AccountNumber:  cfg.Fedex.AccountNumber,
			Timeout:        cfg.HTTP.Timeout(),
			ShipperPostal:  cfg.Fedex.ShipperPostal,
			ShipperCountry: cfg.Fedex.ShipperCountry,
		}, nil, limiter)
		deps.Shipping = shipping.NewEstimator(a.store, quoter, a.cache, shipping.Config{
			TTL: cfg.Fedex.QuoteTTL,
		}, a.logger.Named("shipping"))
	}

	a.registry = tasks.NewRegistry(deps, a.logger.Named("tasks"))
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the catalog store.
func (a *App) Store() catalog.Store { return a.store }

// Tasks returns the task submission client.
func (a *App) Tasks() *tasks.Client { return a.tasks }

// Registry returns the task router.
func (a *App) Registry() *tasks.Registry { return a.registry }

// Engine returns the upsert engine.
func (a *App) Engine() *ingest.Engine { return a.engine }

// Crawler returns the ingestion orchestrator.
func (a *App) Crawler() *ingest.Orchestrator { return a.crawler }

// Pricing returns the price and discount engine.
func (a *App) Pricing() *pricing.Engine { return a.pricing }

// Sweeper returns the availability and category sweeper.
func (a *App) Sweeper() *sweeper.Sweeper { return a.sweeper }

// Sites lists the configured sites in canonical order.
func (a *App) Sites() []catalog.Site { return a.sites }

// Checks returns the readiness probes of the open connections.
func (a *App) Checks() map[string]api.Pinger { return a.checks }

// ReclaimConfig returns the product reclaim bounds.
func (a *App) ReclaimConfig() ingest.ReclaimConfig {
	return ingest.ReclaimConfig{
		PerRootTotal:     a.cfg.Reclaim.PerRootCap,
		Chunk:            a.cfg.Reclaim.DeleteChunk,
		ProtectInventory: a.cfg.Reclaim.ProtectInventory,
	}
}

// Dispatcher builds the worker fleet for every queue.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	counts := map[string]int{
		queue.Default: a.cfg.Workers.Default,
		queue.Mailing: a.cfg.Workers.Mailing,
	}
	return dispatcher.Build(a.queue, a.registry, a.store, a.clock, counts, a.logger)
}

// Scheduler builds the periodic maintenance jobs.
func (a *App) Scheduler() *scheduler.Scheduler {
	jobs := []scheduler.Job{
		{
			Name:  tasks.DeactivateEmptyCategory,
			Every: a.cfg.Schedule.SweepInterval,
			Submit: func(ctx context.Context) error {
				var errs []error
				for _, site := range a.sites {
					errs = append(errs, a.tasks.DeactivateEmptyCategories(ctx, site))
				}
				return errors.Join(errs...)
			},
		},
		{
			Name:   tasks.RakutenClearProducts,
			Every:  a.cfg.Schedule.ReclaimInterval,
			Submit: a.tasks.ClearProducts,
		},
	}
	return scheduler.New(jobs, a.cfg.Schedule.RunAtStart, a.logger.Named("scheduler"))
}

// APIServer builds the operator HTTP server.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.tasks, a.checks, api.Config{
		AuthEnabled: a.cfg.Auth.Enabled,
		APIKey:      a.cfg.Auth.APIKey,
	}, a.logger.Named("api"))
}

// Migrate applies the relational schema. The in-memory store needs none.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(interface{ Migrate(context.Context) error })
	if !ok {
		a.logger.Info("store has no schema to migrate", zap.String("store", a.cfg.Store.Provider))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
