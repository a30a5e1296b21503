package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTable arbitrates claims in Redis for multi-instance deployments.
// Claims carry a PX expiry, so expired locks disappear on their own and
// SweepExpired has nothing to scan. Lock visibility on idea snapshots
// comes from the acquire/release broadcasts rather than the idea row.
type RedisTable struct {
	client *redis.Client
	prefix string
}

func NewRedisTable(redisURL string) (*RedisTable, error) {
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

	return &RedisTable{client: client, prefix: "lock:idea:"}, nil
}

// NewRedisTableWithClient creates a table from an existing Redis client.
func NewRedisTableWithClient(client *redis.Client) *RedisTable {
	return &RedisTable{client: client, prefix: "lock:idea:"}
}

func (t *RedisTable) key(ideaID string) string {
	return t.prefix + ideaID
}

// acquireScript grants when the key is free or already ours, otherwise
// reports the current holder and its remaining lifetime.
var acquireScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false or current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return {ARGV[1], tonumber(ARGV[2]), 1}
end
return {current, redis.call('PTTL', KEYS[1]), 0}
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

func (t *RedisTable) TryAcquire(ctx context.Context, ideaID, holderID string, ttl time.Duration) (Claim, bool, error) {
	raw, err := acquireScript.Run(ctx, t.client, []string{t.key(ideaID)}, holderID, ttl.Milliseconds()).Result()
	if err != nil {
		return Claim{}, false, fmt.Errorf("acquire claim: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 3 {
		return Claim{}, false, fmt.Errorf("acquire claim: unexpected reply %v", raw)
	}
	holder, _ := reply[0].(string)
	remainingMs, _ := reply[1].(int64)
	granted, _ := reply[2].(int64)

	// Reconstruct the heartbeat from the remaining lifetime so the
	// manager can report expiry consistently across table backends.
	heartbeatAt := time.Now().Add(time.Duration(remainingMs) * time.Millisecond).Add(-ttl)
	return Claim{HolderID: holder, HeartbeatAt: heartbeatAt}, granted == 1, nil
}

func (t *RedisTable) Renew(ctx context.Context, ideaID, holderID string, ttl time.Duration) (bool, error) {
	renewed, err := renewScript.Run(ctx, t.client, []string{t.key(ideaID)}, holderID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew claim: %w", err)
	}
	return renewed == 1, nil
}

func (t *RedisTable) Release(ctx context.Context, ideaID, holderID string) (bool, error) {
	released, err := releaseScript.Run(ctx, t.client, []string{t.key(ideaID)}, holderID).Int()
	if err != nil {
		return false, fmt.Errorf("release claim: %w", err)
	}
	return released == 1, nil
}

func (t *RedisTable) Holder(ctx context.Context, ideaID string, ttl time.Duration) (Claim, bool, error) {
	pipe := t.client.Pipeline()
	get := pipe.Get(ctx, t.key(ideaID))
	pttl := pipe.PTTL(ctx, t.key(ideaID))
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return Claim{}, false, nil
		}
		return Claim{}, false, fmt.Errorf("inspect claim: %w", err)
	}
	heartbeatAt := time.Now().Add(pttl.Val()).Add(-ttl)
	return Claim{HolderID: get.Val(), HeartbeatAt: heartbeatAt}, true, nil
}

// Invalidate drops the claim key outright; the idea it guarded is gone.
func (t *RedisTable) Invalidate(ctx context.Context, ideaID string) error {
	if err := t.client.Del(ctx, t.key(ideaID)).Err(); err != nil {
		return fmt.Errorf("invalidate claim: %w", err)
	}
	return nil
}

// SweepExpired is a no-op: Redis expires claims natively.
func (t *RedisTable) SweepExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	return nil, nil
}

func (t *RedisTable) Close() error {
	return t.client.Close()
}
