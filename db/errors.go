package db

import "github.com/ceyewan/tripguard/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("db: invalid config")

	// ErrConnectorRequired 未提供数据库连接器或连接器尚未连接
	ErrConnectorRequired = xerrors.New("db: connected database connector is required")
)
