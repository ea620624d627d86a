// Package queue defines the task envelope and the interface shared by the
// in-process and Redis-backed task queues.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Named queues. Translation side effects run on the mailing queue so they
// never hold up ingestion.
const (
	Default = "default"
	Mailing = "mailing"
)

// Names lists every queue a worker fleet consumes.
var Names = []string{Default, Mailing}

// ErrClosed is returned by a queue that has been shut down.
var ErrClosed = errors.New("queue closed")

// Task is one unit of asynchronous work. Args holds the JSON-encoded
// arguments of the named handler.
type Task struct {
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	ETA       time.Time       `json:"eta,omitzero"`
	Attempt   int             `json:"attempt"`
	Submitted time.Time       `json:"submitted"`
}

// Due reports whether the task may run at now.
func (t Task) Due(now time.Time) bool {
	return t.ETA.IsZero() || !t.ETA.After(now)
}

// Queue stores tasks until a worker takes them.
type Queue interface {
	// Submit stores t. Tasks with a future ETA become visible once it passes.
	Submit(ctx context.Context, t Task) error
	// Dequeue blocks until a due task is available on the named queue.
	Dequeue(ctx context.Context, queue string) (Task, error)
	Close() error
}
