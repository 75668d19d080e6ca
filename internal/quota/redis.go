package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

// consumeScript checks and increments one identity's counters atomically.
// KEYS[1] = counter hash
// ARGV[1] = day key, ARGV[2] = month key, ARGV[3] = daily limit,
// ARGV[4] = monthly limit (0 = unlimited), ARGV[5] = now (unix ms)
// Returns 1 when admitted, 0 when denied.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local day = ARGV[1]
local month = ARGV[2]
local dailyLimit = tonumber(ARGV[3])
local monthlyLimit = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'day', 'daily', 'month', 'monthly')
local daily = 0
if state[1] == day then
    daily = tonumber(state[2]) or 0
end
local monthly = 0
if state[3] == month then
    monthly = tonumber(state[4]) or 0
end

if daily >= dailyLimit then
    return 0
end
if monthlyLimit > 0 and monthly >= monthlyLimit then
    return 0
end

redis.call('HSET', key,
    'day', day, 'daily', daily + 1,
    'month', month, 'monthly', monthly + 1,
    'last', ARGV[5])
redis.call('HINCRBY', key, 'total', 1)
return 1
`)

// LimitSource reports an identity's configured ceilings.
type LimitSource interface {
	GetIdentity(ctx context.Context, identityID string) (*model.Identity, error)
}

// RedisCounter keeps counters in Redis for deployments where many
// processes admit against the same identities. Limits still come from the
// identity record; only the counters live here.
type RedisCounter struct {
	client redis.UniversalClient
	limits LimitSource
	prefix string
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client redis.UniversalClient, limits LimitSource) *RedisCounter {
	return &RedisCounter{
		client: client,
		limits: limits,
		prefix: "quota:",
	}
}

// ConsumeQuota implements Counter.
func (c *RedisCounter) ConsumeQuota(ctx context.Context, identityID string, now time.Time) (bool, error) {
	identity, err := c.limits.GetIdentity(ctx, identityID)
	if err != nil {
		return false, err
	}

	res, err := consumeScript.Run(ctx, c.client,
		[]string{c.key(identityID)},
		model.DayKey(now),
		model.MonthKey(now),
		identity.DailyLimit,
		identity.MonthlyLimit,
		now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("running consume script: %w", err)
	}
	return res == 1, nil
}

// Usage reads the current counters for an identity.
func (c *RedisCounter) Usage(ctx context.Context, identityID string, now time.Time) (daily, monthly int, total int64, err error) {
	vals, err := c.client.HMGet(ctx, c.key(identityID), "day", "daily", "month", "monthly", "total").Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("reading counters: %w", err)
	}
	if s, _ := vals[0].(string); s == model.DayKey(now) {
		daily = atoi(vals[1])
	}
	if s, _ := vals[2].(string); s == model.MonthKey(now) {
		monthly = atoi(vals[3])
	}
	total = int64(atoi(vals[4]))
	return daily, monthly, total, nil
}

func (c *RedisCounter) key(identityID string) string {
	return c.prefix + identityID
}

func atoi(v any) int {
	s, _ := v.(string)
	n, _ := strconv.Atoi(s)
	return n
}
