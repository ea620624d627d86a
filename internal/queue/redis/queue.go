// Package redis implements queue.Queue on Redis so that several worker
// processes can share one backlog. Ready tasks live in a list per queue;
// delayed tasks wait in a sorted set scored by ETA and are moved onto the
// list once due.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/catalog-ingest/internal/queue"
)

const promoteBatch = 100

// promoteScript moves due members of the delayed set onto the ready list
// atomically so two workers never promote the same task twice.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// Config controls key naming and polling.
type Config struct {
	KeyPrefix string
	// PollInterval is how long Dequeue sleeps when nothing is ready.
	PollInterval time.Duration
}

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	client goredis.UniversalClient
	prefix string
	poll   time.Duration
	now    func() time.Time
	closed atomic.Bool
}

var _ queue.Queue = (*Queue)(nil)

// New wraps client. The caller keeps ownership of the client.
func New(client goredis.UniversalClient, cfg Config) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Queue{
		client: client,
		prefix: cfg.KeyPrefix,
		poll:   cfg.PollInterval,
		now:    time.Now,
	}
}

func (q *Queue) readyKey(name string) string {
	return q.prefix + "queue:" + name
}

func (q *Queue) delayedKey(name string) string {
	return q.prefix + "queue:" + name + ":delayed"
}

// Submit stores t on its ready list, or in the delayed set when its ETA is in the future.
func (q *Queue) Submit(ctx context.Context, t queue.Task) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	if t.Queue == "" {
		t.Queue = queue.Default
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.Name, err)
	}
	if !t.Due(q.now()) {
		z := goredis.Z{Score: float64(t.ETA.UnixMilli()), Member: payload}
		if err := q.client.ZAdd(ctx, q.delayedKey(t.Queue), z).Err(); err != nil {
			return fmt.Errorf("redis zadd %s: %w", t.Queue, err)
		}
		return nil
	}
	if err := q.client.LPush(ctx, q.readyKey(t.Queue), payload).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", t.Queue, err)
	}
	return nil
}

// Dequeue polls the named queue until a task is ready or ctx ends.
func (q *Queue) Dequeue(ctx context.Context, name string) (queue.Task, error) {
	for {
		if q.closed.Load() {
			return queue.Task{}, queue.ErrClosed
		}
		if err := q.promote(ctx, name); err != nil {
			return queue.Task{}, err
		}
		raw, err := q.client.RPop(ctx, q.readyKey(name)).Bytes()
		switch {
		case err == nil:
			var t queue.Task
			if err := json.Unmarshal(raw, &t); err != nil {
				return queue.Task{}, fmt.Errorf("decode task on %s: %w", name, err)
			}
			return t, nil
		case errors.Is(err, goredis.Nil):
		case ctx.Err() != nil:
			return queue.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		default:
			return queue.Task{}, fmt.Errorf("redis rpop %s: %w", name, err)
		}

		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return queue.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (q *Queue) promote(ctx context.Context, name string) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	keys := []string{q.delayedKey(name), q.readyKey(name)}
	if err := promoteScript.Run(ctx, q.client, keys, now, promoteBatch).Err(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		return fmt.Errorf("promote delayed %s: %w", name, err)
	}
	return nil
}

// Len returns the number of ready and delayed tasks on the named queue.
func (q *Queue) Len(ctx context.Context, name string) (int64, error) {
	ready, err := q.client.LLen(ctx, q.readyKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", name, err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard %s: %w", name, err)
	}
	return ready + delayed, nil
}

// Close stops Submit and Dequeue. The shared client stays open.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}
