package admin

import (
	"context"

	"github.com/ceyewan/tripguard/auth"
	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/ratelimit"
	"github.com/ceyewan/tripguard/store"
)

// HealthChecker 健康检查目标，connector.Connector 满足该接口
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// CompensationReader 补偿审计查询
type CompensationReader interface {
	ListCompensationLogs(ctx context.Context, tripRequestID string) ([]store.CompensationLog, error)
	ListManualInterventions(ctx context.Context, limit int) ([]store.CompensationLog, error)
}

// FlagWriter 写入开关，*featureflag.RedisProvider 满足该接口
type FlagWriter interface {
	SetFlag(ctx context.Context, key, userID string, value bool) error
}

// Deps 运维接口依赖
//
// Breakers 必填。Auth 为空时不注册任何修改状态的接口。
type Deps struct {
	Breakers      *breaker.Registry
	Compensations CompensationReader
	KillSwitch    *featureflag.KillSwitch
	Flags         FlagWriter
	Auth          auth.Authenticator
	Limiter       ratelimit.Limiter // 为空时不限流
	Health        []HealthChecker
}
