package connector

import (
	"database/sql"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/xerrors"
)

// NewSQLite 创建 SQLite 连接器，Connect 时才打开数据库
func NewSQLite(cfg *SQLiteConfig, opts ...Option) (SQLiteConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "sqlite config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "sqlite: %v", err)
	}

	c := newGormConnector("sqlite", cfg.Name, opts)
	c.open = func() gorm.Dialector { return sqlite.Open(cfg.Path) }
	c.tune = func(db *sql.DB) { db.SetMaxOpenConns(cfg.MaxOpenConns) }
	c.where = []clog.Field{clog.String("path", cfg.Path)}
	return c, nil
}
