package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yokitheyo/diagramq/internal/model"
)

const (
	defaultListKey      = "diagramq:jobs"
	defaultBlockTimeout = time.Second
)

// RedisQueue is a reliable list queue. Dequeue atomically moves a job to a
// per-consumer processing list and Ack removes it from there; Recover puts
// unacknowledged jobs of a crashed consumer back on the pending list, which
// gives at-least-once delivery.
type RedisQueue struct {
	client     redis.UniversalClient
	pending    string
	processing string
	block      time.Duration
	maxLen     int64
	closed     atomic.Bool
}

// RedisOptions configures a RedisQueue. Consumer names the processing list
// and must be stable across restarts of the same worker for Recover to find
// its jobs.
type RedisOptions struct {
	Key          string
	Consumer     string
	BlockTimeout time.Duration
	MaxLength    int64
}

func NewRedisQueue(client redis.UniversalClient, opts RedisOptions) *RedisQueue {
	if opts.Key == "" {
		opts.Key = defaultListKey
	}
	if opts.Consumer == "" {
		opts.Consumer = "default"
	}
	if opts.BlockTimeout < time.Second {
		opts.BlockTimeout = defaultBlockTimeout
	}
	return &RedisQueue{
		client:     client,
		pending:    opts.Key,
		processing: opts.Key + ":processing:" + opts.Consumer,
		block:      opts.BlockTimeout,
		maxLen:     opts.MaxLength,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job model.Job) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, q.pending).Result()
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		if n >= q.maxLen {
			return ErrQueueFull
		}
	}
	if err := q.client.LPush(ctx, q.pending, data).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := q.client.BRPopLPush(ctx, q.pending, q.processing, q.block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// drop the poison message so it is not recovered forever
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			return nil, fmt.Errorf("decode job: %w", err)
		}

		return &Delivery{
			Job: job,
			ack: func(ctx context.Context) error {
				return q.client.LRem(ctx, q.processing, 1, raw).Err()
			},
			nack: func(ctx context.Context) error {
				// back of the pending list, in one transaction with the removal
				_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.LRem(ctx, q.processing, 1, raw)
					pipe.LPush(ctx, q.pending, raw)
					return nil
				})
				return err
			},
		}, nil
	}
}

// Recover moves every job left on this consumer's processing list back to
// the pending list and returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover: %w", err)
		}
		moved++
	}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close stops handing out and accepting jobs. The client is owned by the
// caller and stays open.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}
