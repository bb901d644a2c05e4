// Package db 在数据库连接器之上提供 GORM 会话、事务和 SQL 可观测性。
//
// db 借用连接器的 *gorm.DB，不负责连接的生命周期：
//
//	conn, _ := connector.NewMySQL(&cfg.MySQL, connector.WithLogger(logger))
//	defer conn.Close()
//	_ = conn.Connect(ctx)
//
//	database, _ := db.New(conn, &db.Config{Driver: "mysql", EnableTracing: true}, db.WithLogger(logger))
//	err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
//		return tx.Create(&row).Error
//	})
package db

import (
	"context"
	"errors"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/connector"
	"github.com/ceyewan/tripguard/xerrors"
)

// DB 数据库组件
type DB interface {
	// DB 返回绑定 ctx 的 *gorm.DB
	DB(ctx context.Context) *gorm.DB

	// Transaction 执行事务，fn 中的 tx 仅在事务范围内有效
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error

	// Migrate 自动迁移给定模型
	Migrate(ctx context.Context, models ...any) error

	// Close 组件不持有连接，Close 只做收尾
	Close() error
}

type database struct {
	client *gorm.DB
	cfg    *Config
	logger clog.Logger
}

// New 创建数据库组件
func New(conn connector.DatabaseConnector, cfg *Config, opts ...Option) (DB, error) {
	if conn == nil || conn.GetClient() == nil {
		return nil, ErrConnectorRequired
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrInvalidConfig, "%v", err)
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	client := conn.GetClient().Session(&gorm.Session{
		Logger: newGormLogger(opt.logger, opt.silentMode, cfg.SlowThreshold),
	})

	if cfg.EnableTracing {
		pluginOpts := []otelgorm.Option{otelgorm.WithDBName(conn.Name())}
		if opt.tracer != nil {
			pluginOpts = append(pluginOpts, otelgorm.WithTracerProvider(opt.tracer))
		}
		if err := client.Use(otelgorm.NewPlugin(pluginOpts...)); err != nil && !errors.Is(err, gorm.ErrRegistered) {
			return nil, xerrors.Wrap(err, "db: register otelgorm plugin")
		}
	}

	opt.logger.Info("database component ready",
		clog.String("driver", cfg.Driver),
		clog.String("connector", conn.Name()),
		clog.Bool("tracing", cfg.EnableTracing))

	return &database{client: client, cfg: cfg, logger: opt.logger}, nil
}

func (d *database) DB(ctx context.Context) *gorm.DB {
	return d.client.WithContext(ctx)
}

func (d *database) Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func (d *database) Migrate(ctx context.Context, models ...any) error {
	if err := d.client.WithContext(ctx).AutoMigrate(models...); err != nil {
		d.logger.ErrorContext(ctx, "auto migrate failed", clog.Error(err))
		return xerrors.Wrap(err, "db: auto migrate")
	}
	return nil
}

func (d *database) Close() error {
	return nil
}
