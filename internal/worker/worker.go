// Package worker implements the task execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/logging"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/queue"
)

// Handler runs one task with its JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) error

// Route binds a task name to its handler and retry policy.
type Route struct {
	Handler Handler
	Retry   RetryPolicy
}

// Router resolves task names.
type Router interface {
	Lookup(name string) (Route, bool)
}

// FailureRecorder keeps tasks whose retries are exhausted.
type FailureRecorder interface {
	RecordTaskFailure(ctx context.Context, failure catalog.TaskFailure) error
}

// Config controls Worker behavior.
type Config struct {
	// Queue is the named queue this worker consumes.
	Queue string
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes one queue and executes the routed handlers.
type Worker struct {
	queue    queue.Queue
	router   Router
	failures FailureRecorder
	clock    catalog.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	q queue.Queue,
	router Router,
	failures FailureRecorder,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = queue.Default
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    q,
		router:   router,
		failures: failures,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(zap.String("queue", cfg.Queue)),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx, w.cfg.Queue)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.Process(ctx, task)
	}
}

// Process runs one task and applies its retry policy on failure.
func (w *Worker) Process(ctx context.Context, task queue.Task) {
	logger := logging.Task(w.logger, task.Name, task.ID).With(zap.Int("attempt", task.Attempt))
	route, ok := w.router.Lookup(task.Name)
	if !ok {
		logger.Error("unknown task")
		w.recordFailure(ctx, task, fmt.Errorf("unknown task %q", task.Name))
		metrics.ObserveTask(task.Name, "unknown", 0)
		return
	}

	metrics.IncActiveWorkers(w.cfg.Queue)
	start := time.Now()
	err := w.invoke(ctx, route.Handler, task)
	elapsed := time.Since(start)
	metrics.DecActiveWorkers(w.cfg.Queue)

	if err == nil {
		logger.Debug("task finished", zap.Duration("duration", elapsed))
		metrics.ObserveTask(task.Name, "success", elapsed)
		return
	}
	if ctx.Err() != nil {
		logger.Warn("task interrupted by shutdown", zap.Error(err))
		metrics.ObserveTask(task.Name, "canceled", elapsed)
		return
	}

	retry := route.Retry
	if retry == nil {
		retry = NoRetry{}
	}
	if retry.ShouldRetry(err, task.Attempt) {
		next := task
		next.Attempt++
		next.ETA = w.clock.Now().Add(retry.Backoff(task.Attempt))
		subErr := w.queue.Submit(ctx, next)
		if subErr == nil {
			logger.Warn("task failed; retry scheduled", zap.Time("eta", next.ETA), zap.Error(err))
			metrics.ObserveRetry(task.Name)
			metrics.ObserveTask(task.Name, "retry", elapsed)
			return
		}
		logger.Error("retry submit failed", zap.Error(subErr))
	}

	w.logFailure(logger, err)
	w.recordFailure(ctx, task, err)
	metrics.ObserveTask(task.Name, "failed", elapsed)
}

func (w *Worker) invoke(ctx context.Context, h Handler, task queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return h(ctx, task.Args)
}

func (w *Worker) logFailure(logger *zap.Logger, err error) {
	var shape *catalog.DataShapeError
	switch {
	case errors.Is(err, catalog.ErrFresh):
		logger.Debug("task skipped", zap.Error(err))
	case errors.As(err, &shape):
		logger.Warn("task dropped: malformed payload", zap.Error(err))
	default:
		logger.Error("task failed", zap.Error(err))
	}
}

func (w *Worker) recordFailure(ctx context.Context, task queue.Task, cause error) {
	if w.failures == nil {
		return
	}
	failure := catalog.TaskFailure{
		TaskID:   task.ID,
		Name:     task.Name,
		Queue:    task.Queue,
		Attempt:  task.Attempt,
		Error:    cause.Error(),
		Args:     task.Args,
		FailedAt: w.clock.Now(),
	}
	if err := w.failures.RecordTaskFailure(context.WithoutCancel(ctx), failure); err != nil {
		w.logger.Error("record task failure", zap.String("task_id", task.ID), zap.Error(err))
	}
}
