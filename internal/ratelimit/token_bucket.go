// Package ratelimit meters conversions per caller with a token bucket kept
// in redis, so every API replica draws from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixelconvert:ratelimit"

type Decision struct {
	Allowed bool
	// Limit is the bucket capacity, reported to clients as a header.
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Config struct {
	// Capacity is the number of conversions a subject may burst; it refills
	// evenly over Window.
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	perMS     float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
	script    *redis.Script
}

func NewRedisTokenBucket(client redis.UniversalClient, cfg Config) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case cfg.Window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(cfg.Capacity),
		perMS:     float64(cfg.Capacity) / float64(max(cfg.Window.Milliseconds(), 1)),
		ttl:       2 * cfg.Window,
		keyPrefix: prefix,
		now:       time.Now,
		script:    redis.NewScript(takeScript),
	}, nil
}

// KEYS[1] bucket hash; ARGV capacity, refill per ms, now ms, cost, ttl ms.
// Returns {allowed, remaining, retry_after_ms}.
const takeScript = `
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - at) * per_ms)

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / per_ms)
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[5]))
return {allowed, math.floor(tokens), wait}
`

// Allow takes a single token.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.Take(ctx, subject, 1)
}

// Take charges cost tokens at once, as a batch does for its items. Costs
// above the capacity are charged as a full bucket so large batches are
// still admitted once the bucket refills.
func (l *RedisTokenBucket) Take(ctx context.Context, subject string, cost int) (Decision, error) {
	charge := min(max(int64(cost), 1), l.capacity)

	raw, err := l.script.Run(ctx, l.client, []string{l.key(subject)},
		l.capacity,
		l.perMS,
		l.now().UTC().UnixMilli(),
		charge,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		return Decision{}, err
	}
	decision.Limit = l.capacity
	return decision, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func parseDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply %v", raw)
	}

	var fields [3]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("token bucket reply field %d: %w", i, err)
		}
		fields[i] = n
	}

	return Decision{
		Allowed:    fields[0] == 1,
		Remaining:  fields[1],
		RetryAfter: time.Duration(fields[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
