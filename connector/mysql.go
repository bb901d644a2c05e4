package connector

import (
	"database/sql"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/xerrors"
)

// NewMySQL 创建 MySQL 连接器，实际连接在 Connect() 时建立
func NewMySQL(cfg *MySQLConfig, opts ...Option) (MySQLConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "mysql config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "mysql: %v", err)
	}

	c := newGormConnector("mysql", cfg.Name, opts)
	c.gcfg.SkipDefaultTransaction = true
	c.open = func() gorm.Dialector { return mysql.Open(cfg.dsn()) }
	c.tune = func(db *sql.DB) {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	c.where = []clog.Field{clog.String("host", cfg.Host), clog.String("database", cfg.Database)}
	return c, nil
}
