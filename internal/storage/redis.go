package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// healthPingTimeout bounds the selector's startup probe so a dead
	// Redis host cannot stall process startup.
	healthPingTimeout = 1 * time.Second
	// maxUpdateRetries bounds the optimistic compare-and-swap loop used
	// by Update when another writer races on the same key.
	maxUpdateRetries = 5
)

// RedisBackend stores entries in a Redis server using its native TTL
// support: Set issues a single atomic SET ... EX round trip, and Update
// runs a WATCH/MULTI optimistic transaction. Because state lives in the
// shared server, this backend is safe across processes and hosts, which
// makes it the choice for team-shared conversation state.
//
// It never falls back on its own: any I/O failure surfaces as
// ErrBackendUnavailable and fallback policy stays with the selector.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis backend connection.
type RedisOptions struct {
	Host     string
	Port     int
	DB       int
	Password string
	// KeyPrefix namespaces every key, so multiple deployments can share
	// one Redis database.
	KeyPrefix string
}

// NewRedisBackend creates a pooled Redis client. It does not probe the
// connection; reachability is the selector's HealthCheck call.
func NewRedisBackend(opts RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisBackend{client: client, prefix: opts.KeyPrefix}
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) namespaced(key string) string {
	return b.prefix + key
}

// Get implements Backend. Redis expires keys natively, so an absent
// reply already covers the expired case.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, b.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("redis get %q: %w", key, err))
	}
	return val, nil
}

// Set implements Backend, using the atomic SET-with-expiry primitive in
// one round trip.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.namespaced(key), value, ttl).Err(); err != nil {
		return unavailable(fmt.Errorf("redis set %q: %w", key, err))
	}
	return nil
}

// Delete implements Backend. Redis DEL on a missing key is a no-op,
// which matches the idempotency contract.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.namespaced(key)).Err(); err != nil {
		return unavailable(fmt.Errorf("redis del %q: %w", key, err))
	}
	return nil
}

// Exists implements Backend.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.namespaced(key)).Result()
	if err != nil {
		return false, unavailable(fmt.Errorf("redis exists %q: %w", key, err))
	}
	return n > 0, nil
}

// Update implements Backend as a bounded optimistic-concurrency loop:
// WATCH the key, run fn on a snapshot, and commit through MULTI/EXEC.
// A concurrent write invalidates the transaction and the loop retries
// with a fresh snapshot, up to maxUpdateRetries attempts.
func (b *RedisBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	nk := b.namespaced(key)

	txn := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, nk).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			cur = nil
		} else if err != nil {
			return unavailable(fmt.Errorf("redis get %q: %w", key, err))
		}

		next, ttl, err := fn(cur, exists)
		if err != nil {
			return err
		}
		if ttl == KeepTTL {
			if !exists {
				return ErrInvalidTTL
			}
			// storage.KeepTTL and redis.KeepTTL share the same
			// sentinel; SET ... KEEPTTL preserves the expiry.
		} else if err := validateTTL(ttl); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, nk, next, ttl)
			return nil
		})
		if err != nil {
			return unavailable(fmt.Errorf("redis txn set %q: %w", key, err))
		}
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := b.client.Watch(ctx, txn, nk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return unavailable(fmt.Errorf("redis update %q: gave up after %d contended attempts", key, maxUpdateRetries))
}

// HealthCheck implements Backend with a short-deadline PING, so the
// fallback decision at startup stays fast.
func (b *RedisBackend) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	if err := b.client.Ping(ctx).Err(); err != nil {
		return Health{Healthy: false, Detail: fmt.Sprintf("ping failed: %v", err)}
	}
	return Health{Healthy: true, Detail: "addr " + b.client.Options().Addr}
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
