package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const balanceKeyPrefix = "wallet:balance:v1:"

// putIfNewer writes balance and version unless the stored version is newer, or
// equal with a balance present. An entry without a balance is a tombstone.
var putIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur then
  local c, n = tonumber(cur), tonumber(ARGV[2])
  if c > n or (c == n and redis.call('HEXISTS', KEYS[1], 'balance') == 1) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'balance', ARGV[1], 'version', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// tombstone drops the balance and records version unless a newer one is stored.
var tombstone = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HDEL', KEYS[1], 'balance')
redis.call('HSET', KEYS[1], 'version', ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// RedisCache shares wallet snapshots between service instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a Redis-backed BalanceCache whose entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func balanceKey(id uuid.UUID) string {
	return balanceKeyPrefix + id.String()
}

func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (Wallet, bool, error) {
	fields, err := c.client.HGetAll(ctx, balanceKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Wallet{}, false, nil
		}
		return Wallet{}, false, fmt.Errorf("get cached wallet %s: %w", id, err)
	}
	if _, ok := fields["balance"]; !ok {
		return Wallet{}, false, nil
	}

	balance, err := decimal.NewFromString(fields["balance"])
	if err != nil {
		return Wallet{}, false, fmt.Errorf("decode cached balance for %s: %w", id, err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return Wallet{}, false, fmt.Errorf("decode cached version for %s: %w", id, err)
	}
	return Wallet{ID: id, Balance: balance, Version: version}, true, nil
}

func (c *RedisCache) Put(ctx context.Context, w Wallet) error {
	args := []any{w.Balance.String(), w.Version, c.ttl.Milliseconds()}
	if err := putIfNewer.Run(ctx, c.client, []string{balanceKey(w.ID)}, args...).Err(); err != nil {
		return fmt.Errorf("cache wallet %s: %w", w.ID, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, id uuid.UUID, version int64) error {
	if err := tombstone.Run(ctx, c.client, []string{balanceKey(id)}, version, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("invalidate cached wallet %s: %w", id, err)
	}
	return nil
}
