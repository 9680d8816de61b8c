package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one key per processed identity. Keys never expire: a dedupe
// decision has to outlive any replay window. Claims are separate keys with a TTL.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore parses the URL and verifies the connection.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisStore) processedKey(key string) string {
	return fmt.Sprintf("%s:processed:%s", r.prefix, key)
}

func (r *RedisStore) claimKey(key string) string {
	return fmt.Sprintf("%s:claim:%s", r.prefix, key)
}

// claimScript sets the lease unless another owner holds it.
var claimScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

var unclaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (r *RedisStore) Claim(ctx context.Context, key, owner string, lease time.Duration) (bool, error) {
	n, err := claimScript.Run(ctx, r.rdb, []string{r.claimKey(key)}, owner, lease.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Unclaim(ctx context.Context, key, owner string) error {
	if err := unclaimScript.Run(ctx, r.rdb, []string{r.claimKey(key)}, owner).Err(); err != nil {
		return fmt.Errorf("redis unclaim failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := r.rdb.Get(ctx, r.processedKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt processed record %s: %w", key, err)
	}
	return &rec, nil
}

func (r *RedisStore) Save(ctx context.Context, record Record) (bool, error) {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return false, err
	}

	stored, err := r.rdb.SetNX(ctx, r.processedKey(record.Key), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return stored, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
