package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/connector"
	"github.com/ceyewan/tripguard/db"
)

// NewSQLiteConfig 返回独立的内存数据库配置，每次调用使用不同的库名
func NewSQLiteConfig() *connector.SQLiteConfig {
	name := "test_" + NewID()
	return &connector.SQLiteConfig{
		Name: name,
		Path: "file:" + name + "?mode=memory&cache=shared",
	}
}

// NewSQLiteConnector 获取 SQLite 连接器（内存数据库）
// 生命周期由 t.Cleanup 管理
func NewSQLiteConnector(t *testing.T) connector.SQLiteConnector {
	t.Helper()
	conn, err := connector.NewSQLite(NewSQLiteConfig(), connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create sqlite connector")

	err = conn.Connect(context.Background())
	require.NoError(t, err, "failed to connect to sqlite")

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

// NewSQLiteDB 获取基于内存 SQLite 的 db 组件
func NewSQLiteDB(t *testing.T) db.DB {
	t.Helper()
	database, err := db.New(NewSQLiteConnector(t), &db.Config{Driver: "sqlite"}, db.WithSilentMode())
	require.NoError(t, err, "failed to create db component")
	return database
}
