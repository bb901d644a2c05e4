package breaker

import (
	"fmt"
	"time"

	"github.com/ceyewan/tripguard/xerrors"
)

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrInvalidConfig 配置字段非法
	ErrInvalidConfig = xerrors.New("breaker: invalid config")

	// ErrNameEmpty 熔断器名称为空
	ErrNameEmpty = xerrors.New("breaker: name is empty")

	// ErrOpenState 熔断器拒绝了本次调用
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")
)

// OpenError 熔断器拒绝调用时返回的错误，被包装的操作没有执行
//
//	var openErr *breaker.OpenError
//	if errors.As(err, &openErr) {
//		retryAfter := openErr.RetryAt
//	}
type OpenError struct {
	Name    string
	State   State
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s service is currently unavailable (circuit breaker is %s)", e.Name, e.State)
}

func (e *OpenError) Unwrap() error {
	return ErrOpenState
}

// IsOpen 判断错误是否为熔断拒绝
func IsOpen(err error) bool {
	return xerrors.Is(err, ErrOpenState)
}
