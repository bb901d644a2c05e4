package booking

import (
	"github.com/ceyewan/tripguard/xerrors"
)

var (
	// ErrBookingDisabled 紧急开关阻止了本次预订，没有发生任何副作用
	ErrBookingDisabled = xerrors.New("booking: disabled by kill switch")
	// ErrPaymentFailed 扣款失败
	ErrPaymentFailed = xerrors.New("booking: payment failed")
	// ErrOrderFailed 扣款成功但出票失败
	ErrOrderFailed = xerrors.New("booking: order creation failed")
	// ErrInvalidRequest 请求缺少必填字段
	ErrInvalidRequest = xerrors.New("booking: invalid request")
	// ErrAttemptInProgress 同一预订请求的另一次尝试仍在进行
	ErrAttemptInProgress = xerrors.New("booking: attempt already in progress")
	// ErrMissingDependency 构造时缺少依赖
	ErrMissingDependency = xerrors.New("booking: missing dependency")
)
