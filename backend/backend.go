// Package backend adapts a Redis-compatible server to the operations the
// lock and value-proxy packages need: scalar get/set with TTL, delete,
// expire, prefix scan, and a watched pipeline offering WATCH/MULTI/EXEC
// semantics.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrWatchFailed is wrapped by the error Backend.Watch returns when go-redis
// reports redis.TxFailedErr: a key watched by a Backend.Watch call changed
// between WATCH and EXEC. It is not a failure from the
// caller's point of view — the lock package retries on it indefinitely —
// but callers driving their own watched pipelines can test for it with
// errors.Is.
var ErrWatchFailed = errors.New("redicts: watched key changed before commit")

// Pipe queues writes inside a Backend.Watch transaction body. Queued
// operations are committed atomically by EXEC when the body returns nil.
type Pipe interface {
	Set(key, value string, ttl time.Duration)
	Delete(key string)
	Expire(key string, ttl time.Duration)
}

// Tx is the view of the backend available inside a Backend.Watch callback:
// reads against the pre-transaction snapshot, plus a Pipelined method that
// opens the MULTI/EXEC body.
type Tx interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Pipelined(ctx context.Context, fn func(Pipe)) error
}

// Backend is the set of operations the lock and proxy packages require
// from a Redis-compatible server.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL mirrors the Redis TTL command: -1 means the key exists without an
	// expiry, -2 means the key does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// ScanPrefix returns every key matching the glob pattern (e.g. a prefix
	// followed by ".*"). Order is whatever the backend's SCAN cursor
	// produces: unspecified but stable within a single call.
	ScanPrefix(ctx context.Context, pattern string) ([]string, error)
	// Watch opens a watched pipeline over keys: WATCH, then fn observes a
	// consistent snapshot via Tx.Get and queues writes via Tx.Pipelined.
	// If any watched key changed before EXEC, Watch returns an error
	// wrapping ErrWatchFailed.
	Watch(ctx context.Context, keys []string, fn func(Tx) error) error
}

// NoSuchKeyTTL is the value TTL returns for a key that does not exist.
const NoSuchKeyTTL = -2 * time.Second

// NoExpiryTTL is the value TTL returns for a key that exists but carries no
// expiry.
const NoExpiryTTL = -1 * time.Second

type redisBackend struct {
	client redis.UniversalClient
}

// New adapts an existing go-redis client to the Backend interface.
func New(client redis.UniversalClient) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *redisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *redisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := b.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports the -2/-1 sentinels as raw nanosecond counts.
	switch ttl {
	case -2:
		return NoSuchKeyTTL, nil
	case -1:
		return NoExpiryTTL, nil
	}
	return ttl, nil
}

func (b *redisBackend) ScanPrefix(ctx context.Context, pattern string) ([]string, error) {
	const scanCount = 100

	var (
		cursor uint64
		all    []string
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return all, nil
}

func (b *redisBackend) Watch(ctx context.Context, keys []string, fn func(Tx) error) error {
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		return fn(&redisTx{ctx: ctx, tx: tx})
	}, keys...)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: %v", ErrWatchFailed, err)
		}
		return err
	}
	return nil
}

type redisTx struct {
	ctx context.Context
	tx  *redis.Tx
}

func (t *redisTx) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := t.tx.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (t *redisTx) Pipelined(ctx context.Context, fn func(Pipe)) error {
	_, err := t.tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&redisPipe{ctx: ctx, pipe: pipe})
		return nil
	})
	return err
}

type redisPipe struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (p *redisPipe) Set(key, value string, ttl time.Duration) {
	p.pipe.Set(p.ctx, key, value, ttl)
}

func (p *redisPipe) Delete(key string) {
	p.pipe.Del(p.ctx, key)
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(p.ctx, key, ttl)
}
