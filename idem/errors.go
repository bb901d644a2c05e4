package idem

import "errors"

var (
	ErrConfigNil     = errors.New("idem: config is nil")
	ErrInvalidConfig = errors.New("idem: invalid config")
	ErrRedisRequired = errors.New("idem: redis client is required, use WithRedis")
	ErrKeyEmpty      = errors.New("idem: key is empty")

	// ErrConcurrentRequest 相同幂等键的请求正在处理
	ErrConcurrentRequest = errors.New("idem: concurrent request in progress")

	// ErrResultNotFound 存储中没有该键的结果（Store 实现使用）
	ErrResultNotFound = errors.New("idem: result not found")
)
