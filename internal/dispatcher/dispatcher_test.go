// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/queue"
	"github.com/JakeFAU/catalog-ingest/internal/queue/memory"
	"github.com/JakeFAU/catalog-ingest/internal/worker"
)

type clock struct{}

func (clock) Now() time.Time { return time.Now() }

type routes map[string]worker.Route

func (r routes) Lookup(name string) (worker.Route, bool) {
	route, ok := r[name]
	return route, ok
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	q := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(q, routes{}, nil, clock{}, worker.Config{}, zap.NewNop())
	dispatch := New(q, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-q.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestBuildServesEveryQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	mark := func(name string) worker.Handler {
		return func(context.Context, json.RawMessage) error {
			mu.Lock()
			defer mu.Unlock()
			seen[name] = true
			return nil
		}
	}
	router := routes{"parse_genres": {Handler: mark("parse_genres")}, "translate_field": {Handler: mark("translate_field")}}

	dispatch := Build(q, router, nil, clock{}, map[string]int{queue.Default: 2}, zap.NewNop())
	assert.Equal(t, 3, dispatch.Size())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatch.Run(ctx)

	require.NoError(t, dispatch.Submit(ctx, queue.Task{ID: "a", Queue: queue.Default, Name: "parse_genres"}))
	require.NoError(t, dispatch.Submit(ctx, queue.Task{ID: "b", Queue: queue.Mailing, Name: "translate_field"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["parse_genres"] && seen["translate_field"]
	}, time.Second, 5*time.Millisecond)
}

// TestDispatcherSubmitForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherSubmitForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)

	err := dispatch.Submit(context.Background(), queue.Task{ID: "job"})
	require.EqualError(t, err, "queue submit: boom")
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Submit(context.Context, queue.Task) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context, _ string) (queue.Task, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return queue.Task{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Close() error { return nil }

type errorQueue struct {
	err error
}

func (q *errorQueue) Submit(context.Context, queue.Task) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context, string) (queue.Task, error) {
	return queue.Task{}, nil
}

func (q *errorQueue) Close() error { return nil }
