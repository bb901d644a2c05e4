package testkit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/connector"
)

// NewMiniRedis 启动进程内 Redis，并返回已连接的连接器
// 生命周期由 t.Cleanup 管理
func NewMiniRedis(t *testing.T) (*miniredis.Miniredis, connector.RedisConnector) {
	t.Helper()
	mr := miniredis.RunT(t)

	conn, err := connector.NewRedis(&connector.RedisConfig{
		Name: "test-redis",
		Addr: mr.Addr(),
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create redis connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to miniredis")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return mr, conn
}

// NewRedisClient 获取连接到 miniredis 的原生客户端
func NewRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, conn := NewMiniRedis(t)
	return mr, conn.GetClient()
}
