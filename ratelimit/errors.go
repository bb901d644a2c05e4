package ratelimit

import "github.com/ceyewan/tripguard/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("ratelimit: config is nil")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("ratelimit: invalid config")

	// ErrRedisRequired redis 后端缺少客户端
	ErrRedisRequired = xerrors.New("ratelimit: redis client is required")

	// ErrKeyEmpty 限流键为空
	ErrKeyEmpty = xerrors.New("ratelimit: key is empty")

	// ErrInvalidLimit 限流规则无效
	ErrInvalidLimit = xerrors.New("ratelimit: invalid limit")
)
