package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

// tokenBucketScript 以"下一次可放行时间戳"表示令牌桶状态
//
// KEYS[1] 桶键；ARGV: rate, burst, now(秒，浮点), requested
// 返回 {allowed(0|1), remaining}
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local interval = 1 / rate
local fill_time = burst * interval

local last = tonumber(redis.call("GET", KEYS[1]))
if last == nil then
  last = now
end

local next_free = math.max(last, now)
local candidate = next_free + requested * interval
local horizon = now + fill_time

if candidate <= horizon then
  redis.call("SET", KEYS[1], tostring(candidate), "EX", math.ceil(fill_time * 2))
  return {1, math.floor((horizon - candidate) / interval)}
end
return {0, math.floor((horizon - next_free) / interval)}
`)

type distributedLimiter struct {
	client    redis.Cmdable
	prefix    string
	logger    clog.Logger
	clock     clock.Clock
	decisions metrics.Counter
}

func newDistributed(cfg *Config, o *options, decisions metrics.Counter) *distributedLimiter {
	return &distributedLimiter{
		client:    o.redis,
		prefix:    cfg.Prefix,
		logger:    o.logger,
		clock:     o.clock,
		decisions: decisions,
	}
}

func (l *distributedLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *distributedLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	if !limit.Valid() || n <= 0 {
		return false, ErrInvalidLimit
	}

	now := float64(l.clock.Now().UnixNano()) / 1e9
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		strconv.FormatFloat(limit.Rate, 'f', -1, 64),
		limit.Burst,
		strconv.FormatFloat(now, 'f', 6, 64),
		n,
	).Int64Slice()
	if err != nil {
		l.decisions.Inc(ctx, metrics.L(LabelMode, DriverRedis), metrics.L(LabelResult, "error"))
		l.logger.ErrorContext(ctx, "rate limit script failed", clog.String("key", key), clog.Error(err))
		return false, xerrors.Wrap(err, "ratelimit: run script")
	}
	if len(res) != 2 {
		return false, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}

	allowed := res[0] == 1
	l.decisions.Inc(ctx, metrics.L(LabelMode, DriverRedis), result(allowed))
	if !allowed {
		l.logger.DebugContext(ctx, "rate limited",
			clog.String("key", key),
			clog.Int64("remaining", res[1]))
	}
	return allowed, nil
}

// Close 连接由 connector 管理，这里无需释放
func (l *distributedLimiter) Close() error {
	return nil
}
