// Package redis implements CounterStorage on top of a Redis (or
// Redis-compatible) server. Counters are plain Redis keys holding an
// integer value with a TTL; each limit additionally owns a set key that
// indexes every counter key belonging to it, so GetCounters and
// DeleteCounters can enumerate qualified counters without a full key scan.
package redis

import (
	"context"
	"fmt"
	"time"

	_ "embed"

	"github.com/redis/go-redis/v9"

	"github.com/nsavage/ratelimitcore/backends"
	"github.com/nsavage/ratelimitcore/counter"
	"github.com/nsavage/ratelimitcore/limit"
)

//go:embed update_counter.lua
var updateCounterScript string

//go:embed values_and_ttls.lua
var valuesAndTTLsScript string

// Config configures the Redis connection. Addr/Password/DB/PoolSize are
// used directly unless RedisURL is set, in which case it takes precedence
// and the individual fields only override parsed URL parameters that are
// explicitly non-zero.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	RedisURL string

	// ConnErrorStrings overrides the default connectivity-error patterns
	// used to tag StorageErrors as transient. Nil uses the defaults.
	ConnErrorStrings []string
}

// Backend implements backends.CounterStorage against a Redis server.
type Backend struct {
	client           redis.UniversalClient
	connErrorStrings []string
	updateScript     *redis.Script
	valuesScript     *redis.Script
}

// New connects to Redis per config and verifies connectivity with a Ping.
func New(config Config) (*Backend, error) {
	var client redis.UniversalClient

	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		if config.Addr != "" {
			opts.Addr = config.Addr
		}
		if config.Password != "" {
			opts.Password = config.Password
		}
		if config.DB != 0 {
			opts.DB = config.DB
		}
		if config.PoolSize != 0 {
			opts.PoolSize = config.PoolSize
		}
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
			PoolSize: config.PoolSize,
		})
	}

	patterns := config.ConnErrorStrings
	if patterns == nil {
		patterns = connErrorStrings
	}

	b := &Backend{
		client:           client,
		connErrorStrings: patterns,
		updateScript:     redis.NewScript(updateCounterScript),
		valuesScript:     redis.NewScript(valuesAndTTLsScript),
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, backends.NewTransientError("redis:Ping", "failed to reach redis server", err)
	}
	return b, nil
}

// NewWithClient builds a Backend around an already-connected client,
// primarily for tests (e.g. against miniredis).
func NewWithClient(client redis.UniversalClient) *Backend {
	return &Backend{
		client:           client,
		connErrorStrings: connErrorStrings,
		updateScript:     redis.NewScript(updateCounterScript),
		valuesScript:     redis.NewScript(valuesAndTTLsScript),
	}
}

func (b *Backend) key(c *counter.Counter) string {
	return counter.EncodeQualifiedKey(c.Key(), c.Window(), c.Bindings())
}

func (b *Backend) maybeTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnError(err, b.connErrorStrings) {
		return backends.NewTransientError(op, "redis connectivity error", err)
	}
	return backends.NewStorageError(op, "redis operation failed", err)
}

// Ping reports whether the Redis server is reachable, satisfying
// backends.Pinger for health-checked composite setups.
func (b *Backend) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// IsWithinLimits never mutates.
func (b *Backend) IsWithinLimits(c *counter.Counter, delta uint64) (bool, error) {
	ctx := context.Background()
	val, err := b.client.Get(ctx, b.key(c)).Uint64()
	if err == redis.Nil {
		return delta <= c.MaxValue(), nil
	}
	if err != nil {
		return false, b.maybeTransient("redis:IsWithinLimits", err)
	}
	return val+delta <= c.MaxValue(), nil
}

// AddCounter is a no-op for Redis: keys and their index-set membership are
// created lazily by UpdateCounter on first write.
func (b *Backend) AddCounter(l *limit.Limit) error { return nil }

// UpdateCounter unconditionally increments the counter, setting its TTL
// only when the key is freshly created, and indexes the key under its
// limit's set so GetCounters/DeleteCounters can find it later.
func (b *Backend) UpdateCounter(c *counter.Counter, delta uint64) error {
	ctx := context.Background()
	key := b.key(c)
	indexKey := counter.LimitIndexKey(c.Key())
	err := b.updateScript.Run(ctx, b.client, []string{key, indexKey}, int64(c.Window().Seconds()), int64(delta)).Err()
	return b.maybeTransient("redis:UpdateCounter", err)
}

// CheckAndUpdate evaluates every counter's current value before applying
// any write; the batch either all succeeds or nothing is written.
func (b *Backend) CheckAndUpdate(counters []*counter.Counter, delta uint64, loadCounters bool) (backends.Authorization, error) {
	ctx := context.Background()
	if len(counters) == 0 {
		return backends.Ok, nil
	}

	keys := make([]string, len(counters))
	for i, c := range counters {
		keys[i] = b.key(c)
	}

	var firstLimited *backends.Authorization
	if loadCounters {
		raw, err := b.valuesScript.Run(ctx, b.client, keys).Result()
		if err != nil {
			return backends.Ok, b.maybeTransient("redis:CheckAndUpdate", err)
		}
		rows, ok := raw.([]interface{})
		if !ok || len(rows) != len(counters) {
			return backends.Ok, backends.NewStorageError("redis:CheckAndUpdate", "unexpected script result shape", nil)
		}
		for i, c := range counters {
			val, ttlMs := parseValueAndTTL(rows[i])
			remaining := int64(c.MaxValue()) - int64(val) - int64(delta)
			if remaining < 0 {
				remaining = 0
			}
			c.SetRemaining(uint64(remaining))
			if ttlMs > 0 {
				c.SetExpiresIn(time.Duration(ttlMs) * time.Millisecond)
			} else {
				c.SetExpiresIn(c.Window())
			}
			if val+delta > c.MaxValue() && firstLimited == nil {
				auth := backends.Limiting(c.Limit().Name())
				firstLimited = &auth
			}
		}
	} else {
		vals, err := b.client.MGet(ctx, keys...).Result()
		if err != nil {
			return backends.Ok, b.maybeTransient("redis:CheckAndUpdate", err)
		}
		for i, c := range counters {
			val := parseMGetValue(vals[i])
			if val+delta > c.MaxValue() {
				return backends.Limiting(c.Limit().Name()), nil
			}
		}
	}

	if firstLimited != nil {
		return *firstLimited, nil
	}

	// TODO: pipeline these once go-redis exposes per-command script results
	// in a single round trip; correctness doesn't depend on it.
	for i, c := range counters {
		indexKey := counter.LimitIndexKey(c.Key())
		if err := b.updateScript.Run(ctx, b.client, []string{keys[i], indexKey}, int64(c.Window().Seconds()), int64(delta)).Err(); err != nil {
			return backends.Ok, b.maybeTransient("redis:CheckAndUpdate", err)
		}
	}
	return backends.Ok, nil
}

// GetCounters enumerates every live counter belonging to limits via each
// limit's index set.
func (b *Backend) GetCounters(limits []*limit.Limit) ([]counter.Counter, error) {
	ctx := context.Background()
	var out []counter.Counter

	for _, l := range limits {
		indexKey := counter.LimitIndexKey(l.Key())
		members, err := b.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return nil, b.maybeTransient("redis:GetCounters", err)
		}
		for _, member := range members {
			limitKey, window, bindings, ok := counter.DecodeKey(member)
			if !ok || limitKey != l.Key() {
				continue
			}
			val, err := b.client.Get(ctx, member).Uint64()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, b.maybeTransient("redis:GetCounters", err)
			}
			ttl, err := b.client.PTTL(ctx, member).Result()
			if err != nil {
				return nil, b.maybeTransient("redis:GetCounters", err)
			}
			if ttl <= 0 {
				continue
			}
			c := counter.New(l, window, bindings)
			remaining := int64(l.MaxValue()) - int64(val)
			if remaining < 0 {
				remaining = 0
			}
			c.SetRemaining(uint64(remaining))
			c.SetExpiresIn(ttl)
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteCounters removes every counter key indexed under each limit, plus
// the index set itself.
func (b *Backend) DeleteCounters(limits []*limit.Limit) error {
	ctx := context.Background()
	for _, l := range limits {
		indexKey := counter.LimitIndexKey(l.Key())
		members, err := b.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return b.maybeTransient("redis:DeleteCounters", err)
		}
		if len(members) > 0 {
			if err := b.client.Del(ctx, members...).Err(); err != nil {
				return b.maybeTransient("redis:DeleteCounters", err)
			}
		}
		if err := b.client.Del(ctx, indexKey).Err(); err != nil {
			return b.maybeTransient("redis:DeleteCounters", err)
		}
	}
	return nil
}

// Clear flushes the entire selected Redis database.
func (b *Backend) Clear() error {
	ctx := context.Background()
	return b.maybeTransient("redis:Clear", b.client.FlushDB(ctx).Err())
}

// Close releases the underlying client's connections.
func (b *Backend) Close() error {
	return b.client.Close()
}

func parseMGetValue(v interface{}) uint64 {
	if v == nil {
		return 0
	}
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n uint64
	fmt.Sscanf(s, "%d", &n)
	return n
}

func parseValueAndTTL(row interface{}) (value uint64, ttlMs int64) {
	pair, ok := row.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, 0
	}
	if s, ok := pair[0].(string); ok {
		fmt.Sscanf(s, "%d", &value)
	}
	if n, ok := pair[1].(int64); ok {
		ttlMs = n
	}
	return value, ttlMs
}

var (
	_ backends.CounterStorage = (*Backend)(nil)
	_ backends.Pinger         = (*Backend)(nil)
)
