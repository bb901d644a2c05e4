package idem

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/tripguard/xerrors"
)

var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	// KEYS[1]=lock KEYS[2]=result ARGV[1]=token ARGV[2]=value ARGV[3]=ttl(ms)
	setResultScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
redis.call("DEL", KEYS[1])
return 1`)
)

// errLockLost 写结果时锁已过期或被他人持有
var errLockLost = errors.New("idem: lock lost before result was stored")

type redisStore struct {
	client redis.Cmdable
	prefix string
}

func newRedisStore(client redis.Cmdable, prefix string) *redisStore {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) Lock(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error) {
	token, err := newLockToken()
	if err != nil {
		return "", false, err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key+lockSuffix, string(token), ttl).Result()
	if err != nil {
		return "", false, xerrors.Wrap(err, "redis setnx")
	}
	return token, ok, nil
}

func (s *redisStore) Unlock(ctx context.Context, key string, token LockToken) error {
	if err := unlockScript.Run(ctx, s.client, []string{s.prefix + key + lockSuffix}, string(token)).Err(); err != nil {
		return xerrors.Wrap(err, "redis unlock")
	}
	return nil
}

func (s *redisStore) SetResult(ctx context.Context, key string, val []byte, ttl time.Duration, token LockToken) error {
	n, err := setResultScript.Run(ctx, s.client,
		[]string{s.prefix + key + lockSuffix, s.prefix + key + resultSuffix},
		string(token), val, ttl.Milliseconds()).Int()
	if err != nil {
		return xerrors.Wrap(err, "redis set result")
	}
	if n == 0 {
		return errLockLost
	}
	return nil
}

func (s *redisStore) GetResult(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key+resultSuffix).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "redis get result")
	}
	return val, nil
}
