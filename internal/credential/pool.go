// Package credential leases third-party API credentials from a shared pool.
//
// Lease state lives only in the shared KV cache: a credential is leased while
// its busy marker exists, and the marker always carries a TTL so a crashed
// worker can never hold a credential forever.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
)

const busyValue = "1"

// Source loads the credentials configured for a site.
type Source interface {
	ActiveCredentials(ctx context.Context, site catalog.Site) ([]catalog.Credential, error)
}

// Config controls lease timing.
type Config struct {
	// Cooldown is the minimum spacing between two uses of one credential.
	Cooldown time.Duration
	// PollInterval is the delay between scans when every credential is busy.
	PollInterval time.Duration
}

// Pool hands out one credential per caller.
type Pool struct {
	site   catalog.Site
	source Source
	cache  catalog.Cache
	cfg    Config
	logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
}

// NewPool builds a Pool for one site.
func NewPool(site catalog.Site, source Source, cache catalog.Cache, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		site:   site,
		source: source,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With(zap.String("site", string(site))),
		sleep:  sleepCtx,
		jitter: randomJitter,
	}
}

// Site returns the site served by this pool.
func (p *Pool) Site() catalog.Site {
	return p.site
}

// Cooldown returns the configured cooldown.
func (p *Pool) Cooldown() time.Duration {
	return p.cfg.Cooldown
}

// Lease returns the first active credential without a busy marker and
// claims it for one cooldown. It waits while every credential is busy and
// only gives up when ctx ends or the active set is empty.
func (p *Pool) Lease(ctx context.Context) (catalog.Credential, error) {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		creds, err := p.source.ActiveCredentials(ctx, p.site)
		if err != nil {
			return catalog.Credential{}, fmt.Errorf("load credentials: %w", err)
		}
		active := enabled(creds)
		if len(active) == 0 {
			return catalog.Credential{}, fmt.Errorf("site %s: %w", p.site, catalog.ErrNoCredentials)
		}
		for _, cred := range active {
			claimed, err := p.cache.SetNX(ctx, cred.BusyKey(), busyValue, p.cfg.Cooldown)
			if err != nil {
				return catalog.Credential{}, fmt.Errorf("claim credential %d: %w", cred.ID, err)
			}
			if claimed {
				metrics.ObserveLeaseWait(string(p.site), time.Since(start))
				if attempt > 0 {
					p.logger.Debug("credential leased after wait",
						zap.Int64("credential_id", cred.ID),
						zap.Int("scans", attempt+1),
						zap.Duration("waited", time.Since(start)),
					)
				}
				return cred, nil
			}
		}
		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return catalog.Credential{}, fmt.Errorf("wait for credential: %w", err)
		}
	}
}

// MarkBusy (re)sets the busy marker of cred for ttl.
func (p *Pool) MarkBusy(ctx context.Context, cred catalog.Credential, ttl time.Duration) error {
	if err := p.cache.Set(ctx, cred.BusyKey(), busyValue, ttl); err != nil {
		return fmt.Errorf("mark credential %d busy: %w", cred.ID, err)
	}
	return nil
}

// Release removes the busy marker of cred.
func (p *Pool) Release(ctx context.Context, cred catalog.Credential) error {
	if err := p.cache.Delete(ctx, cred.BusyKey()); err != nil {
		return fmt.Errorf("release credential %d: %w", cred.ID, err)
	}
	return nil
}

// Acquire leases a credential, runs fn with it and then holds the
// credential for a random spacer in [cooldown, 1.5*cooldown) before
// releasing it. The spacer runs on every exit path, including panics.
func (p *Pool) Acquire(ctx context.Context, fn func(catalog.Credential) error) (err error) {
	cred, err := p.Lease(ctx)
	if err != nil {
		return err
	}
	defer func() {
		rec := recover()
		p.finish(ctx, cred)
		if rec != nil {
			panic(rec)
		}
	}()
	return fn(cred)
}

func (p *Pool) finish(ctx context.Context, cred catalog.Credential) {
	spacer := p.cfg.Cooldown + p.jitter(p.cfg.Cooldown/2)
	// The marker may have expired while fn ran longer than the cooldown.
	if err := p.MarkBusy(context.WithoutCancel(ctx), cred, spacer); err != nil {
		p.logger.Warn("failed to extend credential marker", zap.Int64("credential_id", cred.ID), zap.Error(err))
	}
	if err := p.sleep(ctx, spacer); err != nil {
		// Leave the marker to expire on its own TTL.
		return
	}
	if err := p.Release(context.WithoutCancel(ctx), cred); err != nil {
		p.logger.Warn("failed to release credential", zap.Int64("credential_id", cred.ID), zap.Error(err))
	}
}

func enabled(creds []catalog.Credential) []catalog.Credential {
	out := creds[:0:0]
	for _, c := range creds {
		if !c.Disabled {
			out = append(out, c)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// IsExhausted reports whether err means the pool has nothing to hand out.
func IsExhausted(err error) bool {
	return errors.Is(err, catalog.ErrNoCredentials)
}
