// Package connector 管理 tripguard 依赖的外部连接：MySQL、SQLite、Redis、NATS。
//
// 连接器只负责连接的生命周期，组件（store、featureflag、alert）借用连接器的客户端，
// 不应调用 Close()。应用层按 LIFO 顺序释放：先停组件，再关连接器。
//
//	conn, err := connector.NewRedis(&cfg.Redis, connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	flags, err := featureflag.NewRedisProvider(conn.GetClient())
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Connector 所有连接器的通用行为，方法均并发安全
type Connector interface {
	// Connect 建立连接，幂等
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源，幂等
	Close() error

	// HealthCheck 主动探测连接，并更新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最近一次健康检查的结果，不阻塞
	IsHealthy() bool

	// Name 连接器实例名称，用于日志和指标
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Connect 之前或 Close 之后可能为 nil
	GetClient() T
}

// RedisConnector Redis 连接器，客户端已接入 OpenTelemetry
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// MySQLConnector MySQL 连接器，基于 GORM
type MySQLConnector interface {
	TypedConnector[*gorm.DB]
}

// SQLiteConnector SQLite 连接器，基于 GORM，适合本地运行和测试
type SQLiteConnector interface {
	TypedConnector[*gorm.DB]
}

// NATSConnector NATS 连接器，内置自动重连
type NATSConnector interface {
	TypedConnector[*nats.Conn]
}

// DatabaseConnector MySQL 与 SQLite 连接器的公共形态，db 组件据此借用 *gorm.DB
type DatabaseConnector interface {
	TypedConnector[*gorm.DB]
}
