package featureflag

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/xerrors"
)

const (
	// DefaultHashKey 存放所有开关的 Redis Hash
	DefaultHashKey = "tripguard:flags"

	defaultCacheTTL  = 5 * time.Second
	defaultCacheSize = 10_000
)

type lookup struct {
	value bool
	found bool
}

// RedisProvider 以 Redis Hash 存储开关，字段为 key 或 key:user:<id>
//
// 查询结果在本地缓存 CacheTTL，紧急开关的生效延迟不超过该值。
type RedisProvider struct {
	client  redis.Cmdable
	hashKey string
	cache   *otter.Cache[string, lookup]
	logger  clog.Logger
}

// RedisOption RedisProvider 选项
type RedisOption func(*redisOptions)

type redisOptions struct {
	hashKey  string
	cacheTTL time.Duration
	logger   clog.Logger
}

// WithHashKey 自定义 Hash 键名
func WithHashKey(key string) RedisOption {
	return func(o *redisOptions) {
		if key != "" {
			o.hashKey = key
		}
	}
}

// WithCacheTTL 本地缓存时间，0 表示不缓存
func WithCacheTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		if ttl >= 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithRedisLogger 设置 Logger
func WithRedisLogger(logger clog.Logger) RedisOption {
	return func(o *redisOptions) {
		if logger != nil {
			o.logger = logger.WithNamespace("featureflag")
		}
	}
}

// NewRedisProvider 创建基于 Redis 的开关数据源
func NewRedisProvider(client redis.Cmdable, opts ...RedisOption) (*RedisProvider, error) {
	if client == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "featureflag: redis client is nil")
	}
	o := &redisOptions{hashKey: DefaultHashKey, cacheTTL: defaultCacheTTL, logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	p := &RedisProvider{client: client, hashKey: o.hashKey, logger: o.logger}
	if o.cacheTTL > 0 {
		cache, err := otter.New(&otter.Options[string, lookup]{
			MaximumSize:      defaultCacheSize,
			ExpiryCalculator: otter.ExpiryWriting[string, lookup](o.cacheTTL),
		})
		if err != nil {
			return nil, xerrors.Wrap(err, "featureflag: build otter cache")
		}
		p.cache = cache
	}
	return p, nil
}

func (p *RedisProvider) BoolFlag(ctx context.Context, key, userID string, def bool) (bool, error) {
	cacheKey := key + "|" + userID
	if p.cache != nil {
		if l, ok := p.cache.GetIfPresent(cacheKey); ok {
			return resolve(l, def), nil
		}
	}

	fields := []string{key}
	if userID != "" {
		fields = []string{userField(key, userID), key}
	}

	values, err := p.client.HMGet(ctx, p.hashKey, fields...).Result()
	if err != nil {
		return def, xerrors.Wrapf(err, "featureflag: read %s", key)
	}

	var l lookup
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		v, ok := parseBool(s)
		if !ok {
			p.logger.WarnContext(ctx, "ignoring malformed flag value",
				clog.String("field", fields[i]), clog.String("value", s))
			continue
		}
		l = lookup{value: v, found: true}
		break
	}

	if p.cache != nil {
		p.cache.Set(cacheKey, l)
	}
	return resolve(l, def), nil
}

// SetFlag 写入开关并清空本地缓存，userID 为空时写全局值
func (p *RedisProvider) SetFlag(ctx context.Context, key, userID string, value bool) error {
	field := key
	if userID != "" {
		field = userField(key, userID)
	}
	if err := p.client.HSet(ctx, p.hashKey, field, fmt.Sprintf("%t", value)).Err(); err != nil {
		return xerrors.Wrapf(err, "featureflag: write %s", field)
	}
	p.Invalidate()
	p.logger.InfoContext(ctx, "feature flag updated", clog.String("field", field), clog.Bool("value", value))
	return nil
}

// DeleteFlag 删除开关并清空本地缓存
func (p *RedisProvider) DeleteFlag(ctx context.Context, key, userID string) error {
	field := key
	if userID != "" {
		field = userField(key, userID)
	}
	if err := p.client.HDel(ctx, p.hashKey, field).Err(); err != nil {
		return xerrors.Wrapf(err, "featureflag: delete %s", field)
	}
	p.Invalidate()
	return nil
}

// Invalidate 清空本地缓存
func (p *RedisProvider) Invalidate() {
	if p.cache != nil {
		p.cache.InvalidateAll()
	}
}

func resolve(l lookup, def bool) bool {
	if l.found {
		return l.value
	}
	return def
}
