package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	// Prefix is prepended to every key.
	Prefix string
	// PingRetries and PingBackoff control the startup connectivity check.
	PingRetries uint64
	PingBackoff time.Duration
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address:     "localhost:6379",
		TTL:         DefaultTTL,
		Prefix:      "prediction:",
		PingRetries: 3,
		PingBackoff: time.Second,
	}
}

// Redis stores predictions as JSON with an expiry.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedis connects and pings with Fibonacci backoff before giving up.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PingBackoff <= 0 {
		opts.PingBackoff = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	b := retry.WithMaxRetries(opts.PingRetries, retry.NewFibonacci(opts.PingBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis at %s is unreachable", opts.Address)
	}
	return &Redis{client: client, opts: opts}, nil
}

func (r *Redis) Save(ctx context.Context, id string, p model.Prediction) error {
	serialized, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "couldn't marshal prediction")
	}
	if err := r.client.Set(ctx, key(r.opts.Prefix, id), serialized, r.opts.TTL).Err(); err != nil {
		return errors.Wrap(err, "couldn't store prediction")
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (model.Prediction, error) {
	var p model.Prediction
	data, err := r.client.Get(ctx, key(r.opts.Prefix, id)).Bytes()
	if err == redis.Nil {
		return p, ErrNotFound
	}
	if err != nil {
		return p, errors.Wrap(err, "couldn't load prediction")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errors.Wrap(err, "couldn't unmarshal prediction")
	}
	return p, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
