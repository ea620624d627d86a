package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	kvmemory "github.com/JakeFAU/catalog-ingest/internal/kv/memory"
)

type staticSource struct {
	creds []catalog.Credential
	err   error
}

func (s staticSource) ActiveCredentials(_ context.Context, _ catalog.Site) ([]catalog.Credential, error) {
	return s.creds, s.err
}

func twoCredentials() staticSource {
	return staticSource{creds: []catalog.Credential{
		{ID: 1, Site: catalog.SiteRakuten, AppID: "app-a"},
		{ID: 2, Site: catalog.SiteRakuten, AppID: "app-b"},
	}}
}

func newTestPool(t *testing.T, src Source, cooldown time.Duration) (*Pool, *kvmemory.Cache) {
	t.Helper()
	cache := kvmemory.New(0)
	t.Cleanup(cache.Close)
	pool := NewPool(catalog.SiteRakuten, src, cache, Config{
		Cooldown:     cooldown,
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop())
	pool.jitter = func(time.Duration) time.Duration { return 0 }
	return pool, cache
}

func TestLeaseReturnsFirstFreeCredential(t *testing.T) {
	t.Parallel()

	pool, cache := newTestPool(t, twoCredentials(), time.Minute)
	ctx := context.Background()

	first, err := pool.Lease(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	second, err := pool.Lease(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)

	_, ok, _ := cache.Get(ctx, "busy_client:1_app-a")
	assert.True(t, ok)
	_, ok, _ = cache.Get(ctx, "busy_client:2_app-b")
	assert.True(t, ok)
}

func TestLeaseWaitsUntilMarkerExpires(t *testing.T) {
	t.Parallel()

	cooldown := 60 * time.Millisecond
	pool, _ := newTestPool(t, twoCredentials(), cooldown)
	ctx := context.Background()

	start := time.Now()
	_, err := pool.Lease(ctx)
	require.NoError(t, err)
	_, err = pool.Lease(ctx)
	require.NoError(t, err)

	third, err := pool.Lease(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), cooldown)
	assert.Contains(t, []int64{1, 2}, third.ID)
}

func TestLeaseHonorsContext(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, staticSource{creds: []catalog.Credential{{ID: 1, AppID: "a"}}}, time.Minute)
	_, err := pool.Lease(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Lease(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLeaseFailsWithoutActiveCredentials(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]staticSource{
		"empty":    {},
		"disabled": {creds: []catalog.Credential{{ID: 1, AppID: "a", Disabled: true}}},
	} {
		pool, _ := newTestPool(t, src, time.Second)
		_, err := pool.Lease(context.Background())
		require.ErrorIs(t, err, catalog.ErrNoCredentials, name)
		assert.True(t, IsExhausted(err), name)
	}
}

func TestLeasePropagatesSourceErrors(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, staticSource{err: errors.New("db down")}, time.Second)
	_, err := pool.Lease(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestMarkBusyAndRelease(t *testing.T) {
	t.Parallel()

	pool, cache := newTestPool(t, twoCredentials(), time.Minute)
	ctx := context.Background()
	cred := catalog.Credential{ID: 1, AppID: "app-a"}

	require.NoError(t, pool.MarkBusy(ctx, cred, time.Minute))
	require.NoError(t, pool.MarkBusy(ctx, cred, time.Minute))
	_, ok, _ := cache.Get(ctx, cred.BusyKey())
	assert.True(t, ok)

	require.NoError(t, pool.Release(ctx, cred))
	_, ok, _ = cache.Get(ctx, cred.BusyKey())
	assert.False(t, ok)
}

func TestConcurrentLeasesAreDistinct(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, twoCredentials(), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var (
		mu     sync.Mutex
		leased []int64
		wg     sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := pool.Lease(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			leased = append(leased, cred.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, leased, 2, "only two credentials exist and neither expires within the deadline")
	assert.ElementsMatch(t, []int64{1, 2}, leased)
}

func TestAcquireHoldsSpacerThenReleases(t *testing.T) {
	t.Parallel()

	cooldown := 40 * time.Millisecond
	pool, cache := newTestPool(t, twoCredentials(), cooldown)
	ctx := context.Background()

	var used catalog.Credential
	start := time.Now()
	err := pool.Acquire(ctx, func(c catalog.Credential) error {
		used = c
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), cooldown)

	_, ok, _ := cache.Get(ctx, used.BusyKey())
	assert.False(t, ok, "credential must be released after the spacer")
}

func TestAcquireReturnsHandlerError(t *testing.T) {
	t.Parallel()

	pool, cache := newTestPool(t, twoCredentials(), 10*time.Millisecond)
	boom := errors.New("upstream failed")
	var used catalog.Credential
	err := pool.Acquire(context.Background(), func(c catalog.Credential) error {
		used = c
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, ok, _ := cache.Get(context.Background(), used.BusyKey())
	assert.False(t, ok)
}

func TestAcquireReleasesOnPanic(t *testing.T) {
	t.Parallel()

	pool, cache := newTestPool(t, twoCredentials(), 10*time.Millisecond)
	var used catalog.Credential
	require.Panics(t, func() {
		_ = pool.Acquire(context.Background(), func(c catalog.Credential) error {
			used = c
			panic("boom")
		})
	})
	_, ok, _ := cache.Get(context.Background(), used.BusyKey())
	assert.False(t, ok)
}

func TestAcquireCanceledDuringSpacerKeepsMarker(t *testing.T) {
	t.Parallel()

	pool, cache := newTestPool(t, twoCredentials(), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	var used catalog.Credential
	err := pool.Acquire(ctx, func(c catalog.Credential) error {
		used = c
		cancel()
		return nil
	})
	require.NoError(t, err)
	_, ok, _ := cache.Get(context.Background(), used.BusyKey())
	assert.True(t, ok, "marker stays until its TTL so spacing is preserved")
}

// TestSequentialAcquireRespectsCooldown mirrors the two-credential cooldown
// scenario: four sequential scoped acquisitions never see more than two
// credentials leased and take at least two cooldowns.
func TestSequentialAcquireRespectsCooldown(t *testing.T) {
	t.Parallel()

	cooldown := 50 * time.Millisecond
	pool, cache := newTestPool(t, twoCredentials(), cooldown)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		err := pool.Acquire(ctx, func(catalog.Credential) error {
			assert.LessOrEqual(t, cache.Len(), 2)
			return nil
		})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*cooldown)
}
