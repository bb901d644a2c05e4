package idem

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/ceyewan/tripguard/xerrors"
)

// Store 幂等存储
//
// 每个键有三种状态：处理中（持有锁）、已完成（有结果）、不存在。
// 解锁和写结果都要求持有者的令牌，过期后被他人重新获取的锁不会被误删。
type Store interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error)
	Unlock(ctx context.Context, key string, token LockToken) error
	// SetResult 写入结果并释放锁
	SetResult(ctx context.Context, key string, val []byte, ttl time.Duration, token LockToken) error
	// GetResult 结果不存在时返回 ErrResultNotFound
	GetResult(ctx context.Context, key string) ([]byte, error)
}

const (
	lockSuffix   = ":lock"
	resultSuffix = ":result"
)

// LockToken 锁持有者令牌
type LockToken string

func newLockToken() (LockToken, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", xerrors.Wrap(err, "idem: generate lock token")
	}
	return LockToken(hex.EncodeToString(b)), nil
}
