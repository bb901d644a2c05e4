package compensation

import "github.com/ceyewan/tripguard/xerrors"

var (
	// ErrNoRefundProvider 没有为该支付提供方注册退款实现
	ErrNoRefundProvider = xerrors.New("compensation: no refund provider for payment")

	// ErrUnknownPaymentProvider 无法从支付标识推断提供方
	ErrUnknownPaymentProvider = xerrors.New("compensation: unknown payment provider")

	// ErrNoPayment 没有可退款的支付
	ErrNoPayment = xerrors.New("compensation: no payment to refund")

	// ErrStoreRequired StatusStore 或 AuditLog 未配置
	ErrStoreRequired = xerrors.New("compensation: status store and audit log are required")
)

// ErrNoNotifier 未配置 Notifier
var ErrNoNotifier = xerrors.New("compensation: notifier not configured")
