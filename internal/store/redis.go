package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yokitheyo/diagramq/internal/model"
)

const (
	defaultKeyPrefix = "diagramq:task:"
	maxTxRetries     = 16
)

// RedisStore keeps each task as a JSON document under its own key. Updates
// use WATCH/MULTI so a transition is applied to the version it was computed
// from; TTL on every write implements retention.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	KeyPrefix string
	TTL       time.Duration
}

func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: opts.KeyPrefix,
		ttl:    opts.TTL,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Create(ctx context.Context, task model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(task.ID), data, s.ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (model.Task, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, unavailable(err)
	}
	return decode(data)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn MutateFunc) (model.Task, error) {
	key := s.key(id)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var result model.Task
		var rejected error

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return unavailable(err)
			}
			current, err := decode(data)
			if err != nil {
				return err
			}

			next, err := guardTerminal(current, fn)
			if err != nil {
				result, rejected = current, err
				return err
			}
			encoded, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode task: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}, key)

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case rejected != nil:
			return result, rejected
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
			return model.Task{}, err
		default:
			return model.Task{}, unavailable(err)
		}
	}
	return model.Task{}, fmt.Errorf("%w: too many concurrent updates to %s", ErrUnavailable, id)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func decode(data []byte) (model.Task, error) {
	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return model.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
