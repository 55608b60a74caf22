// Package storage persists per-replicate evaluation records.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis, letting several study workers share
// one record space. Records expire after the configured TTL so abandoned
// runs do not accumulate.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
}

// NewRedisStore connects to Redis and verifies the connection.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: record expiration (0 uses a default of 24 hours)
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func recordKey(k Key) string {
	return "ensagg:eval:" + k.String()
}

func indexKey(dataset, nn string, sim int) string {
	return fmt.Sprintf("ensagg:idx:%s:%s:%d", dataset, nn, sim)
}

// Put stores a record and registers it in the replicate index. Both carry
// the store TTL, refreshed on every write.
func (r *RedisStore) Put(ctx context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	k := record.Key
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, recordKey(k), data, r.ttl)
	idx := indexKey(k.Dataset, k.NN, k.Sim)
	pipe.SAdd(ctx, idx, k.String())
	pipe.Expire(ctx, idx, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store record in redis: %w", err)
	}
	return nil
}

// Get retrieves a record. A missing key yields found=false and no error.
func (r *RedisStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	if err := key.Validate(); err != nil {
		return Record{}, false, err
	}

	data, err := r.client.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to get record from redis: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return record, true, nil
}

// List returns the keys registered for a (dataset, nn, sim) triple. Index
// entries whose record has since expired are still listed; Get resolves
// them to found=false.
func (r *RedisStore) List(ctx context.Context, dataset, nn string, sim int) ([]Key, error) {
	members, err := r.client.SMembers(ctx, indexKey(dataset, nn, sim)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records from redis: %w", err)
	}

	keys := make([]Key, 0, len(members))
	for _, m := range members {
		k, err := parseKey(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt index entry %q: %w", m, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// parseKey inverts Key.String.
func parseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 {
		return Key{}, fmt.Errorf("want 5 key components, got %d", len(parts))
	}
	sim, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("sim component: %w", err)
	}
	nEns, err := strconv.Atoi(parts[4])
	if err != nil {
		return Key{}, fmt.Errorf("n_ens component: %w", err)
	}
	return Key{
		Dataset: parts[0],
		NN:      parts[1],
		Sim:     sim,
		Source:  parts[3],
		NEns:    nEns,
	}, nil
}

// Close closes the Redis client connection. Safe to call multiple times.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
