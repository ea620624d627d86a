// Package dispatcher manages worker fan-out over the named task queues.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/queue"
	"github.com/JakeFAU/catalog-ingest/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers per queue.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher from prebuilt workers.
func New(q queue.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// Build starts counts[name] workers for every named queue. Queues with a
// non-positive count get one worker.
func Build(
	q queue.Queue,
	router worker.Router,
	failures worker.FailureRecorder,
	clock catalog.Clock,
	counts map[string]int,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	var workers []*worker.Worker
	for _, name := range queue.Names {
		n := max(counts[name], 1)
		for i := 0; i < n; i++ {
			workers = append(workers, worker.New(q, router, failures, clock,
				worker.Config{Queue: name},
				logger.Named("worker").With(zap.Int("worker", i)),
			))
		}
	}
	return New(q, workers)
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit proxies to the underlying queue.
func (d *Dispatcher) Submit(ctx context.Context, t queue.Task) error {
	if err := d.queue.Submit(ctx, t); err != nil {
		return fmt.Errorf("queue submit: %w", err)
	}
	return nil
}
