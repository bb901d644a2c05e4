package connector

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/xerrors"
)

// gormConnector MySQL 与 SQLite 共用的生命周期实现，差异只在方言和连接池参数
type gormConnector struct {
	kind   string
	name   string
	open   func() gorm.Dialector
	tune   func(*sql.DB)
	gcfg   gorm.Config
	where  []clog.Field
	logger clog.Logger

	mu      sync.RWMutex
	db      *gorm.DB
	healthy atomic.Bool
}

func newGormConnector(kind, name string, opts []Option) *gormConnector {
	opt := newOptions(opts)
	return &gormConnector{
		kind:   kind,
		name:   name,
		gcfg:   gorm.Config{Logger: gormlogger.Discard},
		logger: opt.logger.With(clog.String("connector", kind), clog.String("name", name)),
	}
}

func (c *gormConnector) wrap(sentinel error, err error) error {
	return xerrors.Wrapf(sentinel, "%s connector[%s]: %v", c.kind, c.name, err)
}

func (c *gormConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return nil
	}

	c.logger.Info("connecting", c.where...)
	db, err := gorm.Open(c.open(), &c.gcfg)
	if err != nil {
		c.logger.Error("open failed", clog.Error(err))
		return c.wrap(ErrConnection, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return c.wrap(ErrConnection, err)
	}
	if c.tune != nil {
		c.tune(sqlDB)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		c.logger.Error("ping failed", clog.Error(err))
		return c.wrap(ErrConnection, err)
	}

	c.db = db
	c.healthy.Store(true)
	c.logger.Info("connected", c.where...)
	return nil
}

func (c *gormConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy.Store(false)
	if c.db == nil {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if err != nil {
		c.logger.Error("close failed", clog.Error(err))
		return err
	}
	c.db = nil
	c.logger.Info("closed")
	return nil
}

func (c *gormConnector) HealthCheck(ctx context.Context) error {
	db := c.GetClient()
	if db == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrClientNil, "%s connector[%s]", c.kind, c.name)
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	c.healthy.Store(err == nil)
	if err != nil {
		c.logger.Warn("health check failed", clog.Error(err))
		return c.wrap(ErrHealthCheck, err)
	}
	return nil
}

func (c *gormConnector) IsHealthy() bool { return c.healthy.Load() }

func (c *gormConnector) Name() string { return c.name }

func (c *gormConnector) GetClient() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
