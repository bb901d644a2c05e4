// Package testkit 提供测试公共依赖：Logger、Meter、SQLite、miniredis 以及基于 testcontainers 的 MySQL/NATS。
//
// 依赖 Docker 的辅助函数只在设置 TRIPGUARD_INTEGRATION=1 时运行，其余情况调用 t.Skip。
package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
)

// IntegrationEnv 开启容器集成测试的环境变量
const IntegrationEnv = "TRIPGUARD_INTEGRATION"

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return &Kit{
		Ctx:    ctx,
		Logger: NewLogger(),
		Meter:  NewMeter(t),
	}
}

// NewLogger 返回一个用于测试的 logger，只输出 warn 及以上
func NewLogger() clog.Logger {
	cfg := clog.NewDevDefaultConfig()
	cfg.Level = "warn"
	logger, err := clog.New(cfg)
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回独立注册表的 meter，可以通过 Handler() 断言导出的指标
func NewMeter(t *testing.T) metrics.Meter {
	t.Helper()
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "tripguard-test", Version: "test"})
	if err != nil {
		return metrics.Discard()
	}
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return meter
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
// 用于生成唯一的 Key 或库名后缀，避免测试间数据冲突
func NewID() string {
	return uuid.New().String()[0:8]
}

// RequireIntegration 未开启容器集成测试时跳过
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() || os.Getenv(IntegrationEnv) == "" {
		t.Skipf("set %s=1 to run container integration tests", IntegrationEnv)
	}
}
