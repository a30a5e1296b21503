package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quadrant/api/internal/util"
)

// RedisWindows is the shared WindowStore for multi-instance
// deployments: all instances count against the same sorted set, so the
// N-per-window bound holds globally.
type RedisWindows struct {
	client *redis.Client
	prefix string
}

func NewRedisWindows(redisURL string) (*RedisWindows, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisWindows{client: client, prefix: "rate:"}, nil
}

// NewRedisWindowsWithClient creates a store from an existing client.
func NewRedisWindowsWithClient(client *redis.Client) *RedisWindows {
	return &RedisWindows{client: client, prefix: "rate:"}
}

func (r *RedisWindows) key(participantID string) string {
	return r.prefix + participantID
}

// takeScript prunes, then either records the new entry or reports the
// oldest surviving score. Members carry a random suffix so two
// submissions in the same millisecond both count.
var takeScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2])}
`)

func (r *RedisWindows) Take(ctx context.Context, participantID string, now time.Time, window time.Duration, limit int) (bool, int, time.Time, error) {
	nowMs := now.UnixMilli()
	cutoffMs := now.Add(-window).UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, util.NewID("")[:8])

	raw, err := takeScript.Run(ctx, r.client, []string{r.key(participantID)},
		cutoffMs, nowMs, limit, window.Milliseconds(), member).Result()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate window take: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate window take: unexpected reply %v", raw)
	}
	taken, _ := reply[0].(int64)
	count, _ := reply[1].(int64)
	oldestMs, _ := reply[2].(int64)

	return taken == 1, int(count), time.UnixMilli(oldestMs), nil
}

func (r *RedisWindows) Reset(ctx context.Context, participantID string) error {
	if err := r.client.Del(ctx, r.key(participantID)).Err(); err != nil {
		return fmt.Errorf("rate window reset: %w", err)
	}
	return nil
}

func (r *RedisWindows) Close() error {
	return r.client.Close()
}
