package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	persist := fmt.Errorf("save_items: %w", &catalog.PersistenceError{Op: "commit", Err: errors.New("x")})

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "persistence", err: persist, attempt: 0, want: true},
		{name: "persistence last attempt", err: persist, attempt: 2, want: true},
		{name: "exhausted", err: persist, attempt: 3, want: false},
		{name: "upstream", err: &catalog.UpstreamError{Status: 500}, want: false},
		{name: "data shape", err: &catalog.DataShapeError{Field: "itemCode"}, want: false},
		{name: "canceled", err: context.Canceled, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 6; attempt++ {
		full := min(100*time.Millisecond*time.Duration(1<<attempt), time.Second)
		got := p.Backoff(attempt)
		assert.GreaterOrEqual(t, got, full/2, "attempt %d", attempt)
		assert.Less(t, got, full, "attempt %d", attempt)
	}
}

func TestLinearRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewLinearRetryPolicy(0, 0)
	assert.Equal(t, 15*time.Second, p.Backoff(0))
	assert.Equal(t, 30*time.Second, p.Backoff(1))
	assert.Equal(t, 45*time.Second, p.Backoff(2))

	up := &catalog.UpstreamError{Status: 503}
	assert.True(t, p.ShouldRetry(up, 0))
	assert.True(t, p.ShouldRetry(up, 2))
	assert.False(t, p.ShouldRetry(up, 3))
	assert.False(t, p.ShouldRetry(catalog.ErrNoCredentials, 0))
	assert.False(t, p.ShouldRetry(&catalog.DataShapeError{Field: "x"}, 0))
}

func TestNoRetry(t *testing.T) {
	t.Parallel()

	assert.False(t, NoRetry{}.ShouldRetry(errors.New("x"), 0))
}
