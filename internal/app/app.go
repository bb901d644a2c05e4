// Package app 按配置装配 tripguard 的全部组件，并管理它们的启动与关闭顺序。
//
//	cfg, _ := app.Load(ctx, loader)
//	a, err := app.New(ctx, cfg)
//	if err != nil { ... }
//	orc, _ := a.NewOrchestrator(app.Collaborators{Offers: duffel, Payments: stripe, ...})
//	err = a.Run(ctx) // 阻塞到 ctx 取消，然后逆序关闭
package app

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/tripguard/admin"
	"github.com/ceyewan/tripguard/alert"
	"github.com/ceyewan/tripguard/auth"
	"github.com/ceyewan/tripguard/booking"
	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/compensation"
	"github.com/ceyewan/tripguard/connector"
	"github.com/ceyewan/tripguard/db"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/idem"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/offer"
	"github.com/ceyewan/tripguard/ratelimit"
	"github.com/ceyewan/tripguard/store"
	"github.com/ceyewan/tripguard/trace"
	"github.com/ceyewan/tripguard/xerrors"
)

// ErrMissingCollaborator NewOrchestrator 缺少外部依赖
var ErrMissingCollaborator = errors.New("app: missing collaborator")

// App 装配完成的应用
type App struct {
	Config     *Config
	Logger     clog.Logger
	Meter      metrics.Meter
	Clock      clock.Clock
	Breakers   *breaker.Registry
	Store      *store.Store
	Flags      featureflag.Provider
	KillSwitch *featureflag.KillSwitch
	Validator  *offer.Validator
	Alerts     *alert.Manager
	Guard      *idem.Guard
	Limiter    ratelimit.Limiter
	Auth       auth.Authenticator
	Admin      *admin.Server

	redis     redis.Cmdable
	health    []admin.HealthChecker
	lifecycle lifecycle
	serveErr  chan error
}

// Option 应用选项
type Option func(*App)

// WithLogger 使用外部 Logger，跳过按 Config.Log 创建
func WithLogger(logger clog.Logger) Option {
	return func(a *App) {
		a.Logger = logger
	}
}

// WithClock 注入时钟，传递给所有组件
func WithClock(c clock.Clock) Option {
	return func(a *App) {
		a.Clock = clock.OrReal(c)
	}
}

// New 按配置创建全部组件并建立外部连接；失败时已创建的部分会被关闭
func New(ctx context.Context, cfg *Config, opts ...Option) (a *App, err error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "app: config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a = &App{Config: cfg, Clock: clock.Real(), serveErr: make(chan error, 1)}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.lifecycle.stopAll(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	if err := a.initTelemetry(); err != nil {
		return nil, err
	}
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initFlags(ctx); err != nil {
		return nil, err
	}
	if err := a.initAlerts(ctx); err != nil {
		return nil, err
	}
	if err := a.initComponents(); err != nil {
		return nil, err
	}
	if err := a.initAdmin(); err != nil {
		return nil, err
	}

	a.Logger.Info("tripguard assembled",
		clog.String("env", cfg.App.Env),
		clog.String("database", cfg.Database.Driver),
		clog.Bool("redis", cfg.Redis != nil),
		clog.Strings("alert_channels", a.Alerts.EnabledChannels()))
	return a, nil
}

func (a *App) initTelemetry() error {
	cfg := a.Config
	if a.Logger == nil {
		logger, err := clog.New(&cfg.Log, clog.WithNamespace(cfg.App.Name),
			clog.WithBookingContext(), clog.WithTraceContext())
		if err != nil {
			return xerrors.Wrap(err, "create logger")
		}
		a.Logger = logger
	}
	a.lifecycle.register(Hook{Name: "logger", Phase: PhaseTelemetry, Stop: func(context.Context) error {
		a.Logger.Flush()
		return nil
	}})

	shutdownTrace, err := trace.Init(&cfg.Trace)
	if err != nil {
		return xerrors.Wrap(err, "init tracing")
	}
	a.lifecycle.register(Hook{Name: "trace", Phase: PhaseTelemetry, Stop: shutdownTrace})

	meter, err := metrics.New(&cfg.Metrics, metrics.WithLogger(a.Logger))
	if err != nil {
		return xerrors.Wrap(err, "create meter")
	}
	a.Meter = meter
	a.lifecycle.register(Hook{Name: "metrics", Phase: PhaseTelemetry, Stop: meter.Shutdown})
	return nil
}

// connect 建立连接并登记关闭与健康检查
func (a *App) connect(ctx context.Context, conn connector.Connector) error {
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return xerrors.Wrapf(err, "connect %s", conn.Name())
	}
	a.health = append(a.health, conn)
	a.lifecycle.register(Hook{Name: "connector." + conn.Name(), Phase: PhaseConnector, Stop: func(context.Context) error {
		return conn.Close()
	}})
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config
	copts := []connector.Option{connector.WithLogger(a.Logger), connector.WithMeter(a.Meter)}

	var dbConn connector.DatabaseConnector
	switch cfg.Database.Driver {
	case "sqlite":
		conn, err := connector.NewSQLite(&cfg.Database.SQLite, copts...)
		if err != nil {
			return xerrors.Wrap(err, "create sqlite connector")
		}
		dbConn = conn
	default:
		conn, err := connector.NewMySQL(&cfg.Database.MySQL, copts...)
		if err != nil {
			return xerrors.Wrap(err, "create mysql connector")
		}
		dbConn = conn
	}
	if err := a.connect(ctx, dbConn); err != nil {
		return err
	}

	database, err := db.New(dbConn, &cfg.Database.Config, db.WithLogger(a.Logger))
	if err != nil {
		return xerrors.Wrap(err, "create db")
	}
	a.Store = store.New(database, store.WithLogger(a.Logger), store.WithClock(a.Clock))
	if cfg.Database.AutoMigrate {
		if err := a.Store.AutoMigrate(ctx); err != nil {
			return xerrors.Wrap(err, "auto migrate")
		}
	}
	return nil
}

func (a *App) initFlags(ctx context.Context) error {
	cfg := a.Config
	if cfg.Redis == nil {
		a.Logger.Warn("redis not configured, using static feature flags")
		a.Flags = featureflag.NewStaticProvider(cfg.Flags.Static)
	} else {
		conn, err := connector.NewRedis(cfg.Redis, connector.WithLogger(a.Logger), connector.WithMeter(a.Meter))
		if err != nil {
			return xerrors.Wrap(err, "create redis connector")
		}
		if err := a.connect(ctx, conn); err != nil {
			return err
		}
		a.redis = conn.GetClient()
		flags, err := featureflag.NewRedisProvider(conn.GetClient(),
			featureflag.WithHashKey(cfg.Flags.HashKey),
			featureflag.WithCacheTTL(cfg.Flags.CacheTTL),
			featureflag.WithRedisLogger(a.Logger))
		if err != nil {
			return xerrors.Wrap(err, "create redis flag provider")
		}
		a.Flags = flags

		guard, err := idem.New(&cfg.Idem, idem.WithRedis(conn.GetClient()),
			idem.WithLogger(a.Logger), idem.WithMeter(a.Meter), idem.WithClock(a.Clock))
		if err != nil {
			return xerrors.Wrap(err, "create idempotency guard")
		}
		a.Guard = guard
	}

	if a.Guard == nil {
		guard, err := idem.New(&cfg.Idem, idem.WithLogger(a.Logger), idem.WithMeter(a.Meter), idem.WithClock(a.Clock))
		if err != nil {
			return xerrors.Wrap(err, "create idempotency guard")
		}
		a.Guard = guard
	}

	a.KillSwitch = featureflag.NewKillSwitch(a.Flags,
		featureflag.WithLogger(a.Logger), featureflag.WithMeter(a.Meter))
	return nil
}

func (a *App) initAlerts(ctx context.Context) error {
	cfg := a.Config
	alertCfg, err := cfg.Alert.managerConfig()
	if err != nil {
		return err
	}
	opts := []alert.Option{
		alert.WithLogger(a.Logger),
		alert.WithMeter(a.Meter),
		alert.WithClock(a.Clock),
		alert.WithFlags(a.Flags),
	}

	if cfg.Alert.Slack.WebhookURL != "" {
		slack, err := alert.NewSlackChannel(cfg.Alert.Slack, alert.WithSlackLogger(a.Logger))
		if err != nil {
			return xerrors.Wrap(err, "create slack channel")
		}
		opts = append(opts, alert.WithSlack(slack))
	}

	if cfg.NATS != nil {
		conn, err := connector.NewNATS(cfg.NATS, connector.WithLogger(a.Logger), connector.WithMeter(a.Meter))
		if err != nil {
			return xerrors.Wrap(err, "create nats connector")
		}
		if err := a.connect(ctx, conn); err != nil {
			return err
		}
		if len(cfg.Alert.Email.Recipients) > 0 {
			email, err := alert.NewEmailChannel(conn.GetClient(), cfg.Alert.Email, a.Logger)
			if err != nil {
				return xerrors.Wrap(err, "create email channel")
			}
			opts = append(opts, alert.WithEmail(email))
		}
	}

	manager, err := alert.New(alertCfg, opts...)
	if err != nil {
		return xerrors.Wrap(err, "create alert manager")
	}
	a.Alerts = manager
	// 关闭连接器之前等待在途告警发送完成
	a.lifecycle.register(Hook{Name: "alerts", Phase: PhaseComponent, Stop: func(context.Context) error {
		manager.Wait()
		return nil
	}})
	return nil
}

func (a *App) initComponents() error {
	a.Breakers = breaker.NewRegistry(
		breaker.WithLogger(a.Logger),
		breaker.WithMeter(a.Meter),
		breaker.WithClock(a.Clock))

	vopts := []offer.Option{offer.WithLogger(a.Logger), offer.WithMeter(a.Meter), offer.WithClock(a.Clock)}
	if n := a.Config.Offer.BatchConcurrency; n > 0 {
		vopts = append(vopts, offer.WithBatchConcurrency(n))
	}
	a.Validator = offer.NewValidator(vopts...)
	return nil
}

func (a *App) initAdmin() error {
	cfg := a.Config
	if cfg.Auth != nil && cfg.Auth.SecretKey != "" {
		authn, err := auth.New(cfg.Auth,
			auth.WithLogger(a.Logger), auth.WithMeter(a.Meter), auth.WithClock(a.Clock))
		if err != nil {
			return xerrors.Wrap(err, "create authenticator")
		}
		a.Auth = authn
	}

	limiter, err := ratelimit.New(&cfg.RateLimit, ratelimit.WithRedis(a.redis),
		ratelimit.WithLogger(a.Logger), ratelimit.WithMeter(a.Meter), ratelimit.WithClock(a.Clock))
	if err != nil {
		return xerrors.Wrap(err, "create rate limiter")
	}
	a.Limiter = limiter
	a.lifecycle.register(Hook{
		Name:  "ratelimit",
		Phase: PhaseComponent,
		Stop:  func(context.Context) error { return limiter.Close() },
	})

	deps := admin.Deps{
		Breakers:      a.Breakers,
		Compensations: a.Store,
		KillSwitch:    a.KillSwitch,
		Auth:          a.Auth,
		Limiter:       a.Limiter,
		Health:        a.health,
	}
	if w, ok := a.Flags.(admin.FlagWriter); ok {
		deps.Flags = w
	}
	srv, err := admin.New(&cfg.Admin, deps, admin.WithLogger(a.Logger), admin.WithMeter(a.Meter))
	if err != nil {
		return xerrors.Wrap(err, "create admin server")
	}
	a.Admin = srv

	a.lifecycle.register(Hook{
		Name:  "admin",
		Phase: PhaseService,
		Start: func(context.Context) error {
			l, err := net.Listen("tcp", srv.Addr())
			if err != nil {
				return xerrors.Wrapf(err, "listen %s", srv.Addr())
			}
			go func() {
				if err := srv.Serve(l); err != nil {
					a.serveErr <- err
				}
			}()
			return nil
		},
		Stop: srv.Shutdown,
	})
	return nil
}

// Collaborators 预订流程的外部依赖，由嵌入方提供
type Collaborators struct {
	Offers    offer.Fetcher
	Payments  booking.PaymentGateway
	Orders    booking.OrderCreator
	Notifier  compensation.Notifier
	Refunders map[compensation.Provider]compensation.Refunder
}

// NewOrchestrator 用应用内的组件和外部依赖组装预订编排器
func (a *App) NewOrchestrator(c Collaborators) (*booking.Orchestrator, error) {
	switch {
	case c.Offers == nil:
		return nil, xerrors.Wrap(ErrMissingCollaborator, "offer fetcher")
	case c.Payments == nil:
		return nil, xerrors.Wrap(ErrMissingCollaborator, "payment gateway")
	case c.Orders == nil:
		return nil, xerrors.Wrap(ErrMissingCollaborator, "order creator")
	}

	copts := []compensation.Option{
		compensation.WithLogger(a.Logger),
		compensation.WithMeter(a.Meter),
		compensation.WithClock(a.Clock),
	}
	if d := a.Config.Compensation.Timeout; d > 0 {
		copts = append(copts, compensation.WithTimeout(d))
	}
	coordinator, err := compensation.New(compensation.Services{
		Store:     a.Store,
		Audit:     a.Store,
		Notifier:  c.Notifier,
		Refunders: c.Refunders,
	}, copts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create compensation coordinator")
	}

	return booking.New(booking.Deps{
		Breakers:    a.Breakers,
		Validator:   a.Validator,
		Offers:      c.Offers,
		Payments:    c.Payments,
		Orders:      c.Orders,
		Compensator: coordinator,
		Notifier:    c.Notifier,
		Alerts:      a.Alerts,
		KillSwitch:  a.KillSwitch,
		Store:       a.Store,
	},
		booking.WithLogger(a.Logger),
		booking.WithMeter(a.Meter),
		booking.WithClock(a.Clock),
		booking.WithBreakerSettings(a.Config.Breakers),
		booking.WithIdempotency(a.Guard))
}

// Start 启动运维服务
func (a *App) Start(ctx context.Context) error {
	return a.lifecycle.startAll(ctx)
}

// Run 启动后阻塞，直到 ctx 取消或运维服务异常退出，然后关闭全部组件
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return xerrors.Combine(err, a.Close(context.WithoutCancel(ctx)))
	}
	a.Logger.InfoContext(ctx, "tripguard started", clog.String("admin_addr", a.Admin.Addr()))

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case runErr = <-a.serveErr:
		a.Logger.Error("admin server exited", clog.Error(runErr))
	}
	return xerrors.Combine(runErr, a.Close(context.WithoutCancel(ctx)))
}

// Close 逆序关闭：运维服务、在途告警、连接器、指标与追踪
func (a *App) Close(ctx context.Context) error {
	return a.lifecycle.stopAll(ctx)
}
