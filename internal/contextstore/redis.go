package contextstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by the Redis store.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const scanBatch = 100

// Redis stores JSON-encoded values under "<prefix>:<scope>:<key>".
type Redis struct {
	client RedisClient
	prefix string
}

// NewRedis returns a Redis store for one scope.
func NewRedis(client RedisClient, prefix, scope string) *Redis {
	return &Redis{client: client, prefix: prefix + ":" + scope + ":"}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (any, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return decodeValue(key, data)
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return ErrInvalidKey
	}
	if value == nil {
		if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
			return fmt.Errorf("redis del %q: %w", key, err)
		}
		return nil
	}

	data, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Keys implements Store. It walks the keyspace with SCAN so a large
// database is never blocked by a single KEYS call.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	match := escapeGlob(r.prefix) + "*"
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			// SCAN may return a key more than once.
			seen[strings.TrimPrefix(k, r.prefix)] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// escapeGlob quotes the characters Redis treats as MATCH pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
