// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// Provider names accepted by store, cache and queue.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	DB          DBConfig          `mapstructure:"db"`
	Store       ProviderConfig    `mapstructure:"store"`
	Cache       ProviderConfig    `mapstructure:"cache"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Reclaim     ReclaimConfig     `mapstructure:"reclaim"`
	Retries     RetriesConfig     `mapstructure:"retries"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Fedex       FedexConfig       `mapstructure:"fedex"`
	Translator  TranslatorConfig  `mapstructure:"translator"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProviderConfig selects a backend.
type ProviderConfig struct {
	Provider string `mapstructure:"provider"`
}

// QueueConfig selects and sizes the task queue.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	// Depth presizes each in-memory backlog. It is not a limit.
	Depth        int           `mapstructure:"depth"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RedisConfig locates the shared Redis instance.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkersConfig sets the worker count per queue.
type WorkersConfig struct {
	Default int `mapstructure:"default"`
	Mailing int `mapstructure:"mailing"`
}

// IngestConfig tunes the crawl and upsert engine.
type IngestConfig struct {
	UpdateDelta   time.Duration `mapstructure:"update_delta"`
	MaxPages      int           `mapstructure:"max_pages"`
	Hits          int           `mapstructure:"hits"`
	MaxTagLookups int           `mapstructure:"max_tag_lookups"`
	Translate     bool          `mapstructure:"translate"`
}

// CredentialSeed is a credential upserted at startup.
type CredentialSeed struct {
	Site      string `mapstructure:"site"`
	AppID     string `mapstructure:"app_id"`
	Secret    string `mapstructure:"secret"`
	PartnerID string `mapstructure:"partner_id"`
	Disabled  bool   `mapstructure:"disabled"`
}

// CredentialsConfig controls the credential pool.
type CredentialsConfig struct {
	// Cooldown is in seconds and may be fractional.
	Cooldown     float64          `mapstructure:"cooldown"`
	PollInterval time.Duration    `mapstructure:"poll_interval"`
	Seed         []CredentialSeed `mapstructure:"seed"`
}

// CooldownDuration converts Cooldown into a time.Duration.
func (c CredentialsConfig) CooldownDuration() time.Duration {
	return time.Duration(c.Cooldown * float64(time.Second))
}

// PricingConfig holds markup and conversion settings.
type PricingConfig struct {
	DefaultIncreasePer float64       `mapstructure:"default_increase_per"`
	MainCurrency       string        `mapstructure:"main_currency"`
	RateCacheSize      int           `mapstructure:"rate_cache_size"`
	RateCacheTTL       time.Duration `mapstructure:"rate_cache_ttl"`
}

// IncreasePer returns the default markup as a decimal.
func (p PricingConfig) IncreasePer() decimal.Decimal {
	return decimal.NewFromFloat(p.DefaultIncreasePer)
}

// ReclaimConfig bounds rakuten_clear_products.
type ReclaimConfig struct {
	PerRootCap       int  `mapstructure:"per_root_cap"`
	DeleteChunk      int  `mapstructure:"delete_chunk"`
	ProtectInventory bool `mapstructure:"protect_inventory"`
}

// RetriesConfig shapes the worker retry policies.
type RetriesConfig struct {
	Max         int           `mapstructure:"max"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	RecheckStep time.Duration `mapstructure:"recheck_step"`
}

// SourcesConfig locates the catalog sources.
type SourcesConfig struct {
	Rakuten    RakutenConfig `mapstructure:"rakuten"`
	CrawlerURL string        `mapstructure:"crawler_url"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
}

// RakutenConfig overrides the Rakuten API endpoint.
type RakutenConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig configures outbound HTTP.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// Timeout returns the request timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// FedexConfig holds FedEx API credentials and the shipper address.
type FedexConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	AccountNumber  string        `mapstructure:"account_number"`
	ShipperPostal  string        `mapstructure:"shipper_postal"`
	ShipperCountry string        `mapstructure:"shipper_country"`
	QuoteTTL       time.Duration `mapstructure:"quote_ttl"`
}

// TranslatorConfig locates the translation service.
type TranslatorConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// ScheduleConfig sets maintenance intervals. Zero disables a job.
type ScheduleConfig struct {
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	RunAtStart      bool          `mapstructure:"run_at_start"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("store.provider", ProviderMemory)
	v.SetDefault("cache.provider", ProviderMemory)
	v.SetDefault("queue.provider", ProviderMemory)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.key_prefix", "catalog:")
	v.SetDefault("queue.poll_interval", 250*time.Millisecond)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("workers.default", 4)
	v.SetDefault("workers.mailing", 1)
	v.SetDefault("ingest.update_delta", 24*time.Hour)
	v.SetDefault("ingest.max_pages", 100)
	v.SetDefault("ingest.hits", 30)
	v.SetDefault("ingest.max_tag_lookups", 10)
	v.SetDefault("ingest.translate", false)
	v.SetDefault("credentials.cooldown", 1.0)
	v.SetDefault("credentials.poll_interval", 100*time.Millisecond)
	v.SetDefault("pricing.default_increase_per", 10)
	v.SetDefault("pricing.main_currency", string(catalog.Yen))
	v.SetDefault("pricing.rate_cache_size", 64)
	v.SetDefault("pricing.rate_cache_ttl", time.Minute)
	v.SetDefault("reclaim.per_root_cap", 1_000_000)
	v.SetDefault("reclaim.delete_chunk", 20_000)
	v.SetDefault("reclaim.protect_inventory", false)
	v.SetDefault("retries.max", 3)
	v.SetDefault("retries.base_delay", 250*time.Millisecond)
	v.SetDefault("retries.max_delay", 30*time.Second)
	v.SetDefault("retries.recheck_step", 15*time.Second)
	v.SetDefault("sources.rps", 1.0)
	v.SetDefault("sources.burst", 1)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "catalog-ingest/0.1")
	v.SetDefault("fedex.quote_ttl", 6*time.Hour)
	v.SetDefault("fedex.shipper_country", "JP")
	v.SetDefault("schedule.sweep_interval", 24*time.Hour)
	v.SetDefault("schedule.reclaim_interval", 24*time.Hour)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if err := checkProvider("store.provider", c.Store.Provider, ProviderMemory, ProviderPostgres); err != nil {
		errs = append(errs, err)
	}
	if err := checkProvider("cache.provider", c.Cache.Provider, ProviderMemory, ProviderRedis); err != nil {
		errs = append(errs, err)
	}
	if err := checkProvider("queue.provider", c.Queue.Provider, ProviderMemory, ProviderRedis); err != nil {
		errs = append(errs, err)
	}
	if c.Store.Provider == ProviderPostgres && c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn must be set when store.provider is postgres"))
	}
	if c.Pricing.DefaultIncreasePer < 0 || c.Pricing.DefaultIncreasePer > 100 {
		errs = append(errs, fmt.Errorf("pricing.default_increase_per must be within [0,100], got %v", c.Pricing.DefaultIncreasePer))
	}
	if _, err := catalog.ParseCurrency(c.Pricing.MainCurrency); err != nil {
		errs = append(errs, fmt.Errorf("pricing.main_currency: %w", err))
	}
	if c.Pricing.RateCacheSize < 4 {
		errs = append(errs, errors.New("pricing.rate_cache_size must be >= 4"))
	}
	if c.Ingest.UpdateDelta < 0 {
		errs = append(errs, errors.New("ingest.update_delta must be >= 0"))
	}
	if c.Ingest.Hits < 1 || c.Ingest.Hits > 30 {
		errs = append(errs, fmt.Errorf("ingest.hits must be within [1,30], got %d", c.Ingest.Hits))
	}
	if c.Credentials.Cooldown <= 0 {
		errs = append(errs, errors.New("credentials.cooldown must be > 0"))
	}
	if c.Reclaim.PerRootCap < 0 || c.Reclaim.DeleteChunk <= 0 {
		errs = append(errs, errors.New("reclaim.per_root_cap must be >= 0 and reclaim.delete_chunk > 0"))
	}
	if c.Retries.Max < 0 {
		errs = append(errs, errors.New("retries.max must be >= 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Workers.Default <= 0 || c.Workers.Mailing <= 0 {
		errs = append(errs, errors.New("workers.default and workers.mailing must be > 0"))
	}
	for i, seed := range c.Credentials.Seed {
		if _, err := catalog.ParseSite(seed.Site); err != nil {
			errs = append(errs, fmt.Errorf("credentials.seed[%d]: %w", i, err))
		}
		if seed.AppID == "" {
			errs = append(errs, fmt.Errorf("credentials.seed[%d].app_id must be set", i))
		}
	}
	if c.Fedex.Enabled && (c.Fedex.ClientID == "" || c.Fedex.ClientSecret == "" || c.Fedex.BaseURL == "") {
		errs = append(errs, errors.New("fedex.base_url, fedex.client_id and fedex.client_secret must be set when fedex is enabled"))
	}
	return errors.Join(errs...)
}

func checkProvider(key, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), got)
}

// MainCurrency returns the validated main currency.
func (c Config) MainCurrency() catalog.Currency {
	return catalog.Currency(strings.ToLower(strings.TrimSpace(c.Pricing.MainCurrency)))
}

// CredentialSeeds converts Seed entries into catalog credentials.
func (c Config) CredentialSeeds() []catalog.Credential {
	out := make([]catalog.Credential, 0, len(c.Credentials.Seed))
	for _, s := range c.Credentials.Seed {
		site, err := catalog.ParseSite(s.Site)
		if err != nil {
			continue
		}
		out = append(out, catalog.Credential{
			Site:      site,
			AppID:     s.AppID,
			Secret:    s.Secret,
			PartnerID: s.PartnerID,
			Disabled:  s.Disabled,
		})
	}
	return out
}
