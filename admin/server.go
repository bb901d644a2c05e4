// Package admin 提供运维 HTTP 接口：健康检查、指标、熔断器状态与重置、补偿审计查询和紧急开关。
//
// 读接口无需认证；重置熔断器和切换紧急开关需要 operator 角色的 JWT。
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/tripguard/auth"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/ratelimit"
	"github.com/ceyewan/tripguard/trace"
	"github.com/ceyewan/tripguard/xerrors"
)

// ErrBreakersRequired 缺少熔断器注册表
var ErrBreakersRequired = errors.New("admin: breaker registry is required")

// Option 服务选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动添加 "admin" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("admin")
		}
	}
}

// WithMeter 设置指标，/metrics 暴露它的 Handler
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// Server 运维 HTTP 服务
type Server struct {
	cfg    Config
	deps   Deps
	logger clog.Logger
	meter  metrics.Meter
	engine *gin.Engine
	srv    *http.Server
	bound  atomic.Value // 实际监听地址
}

// New 创建服务并注册路由
func New(cfg *Config, deps Deps, opts ...Option) (*Server, error) {
	if deps.Breakers == nil {
		return nil, ErrBreakersRequired
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, c.ServiceName)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), trace.GinMiddleware(c.ServiceName), metrics.GinHTTPMiddleware(httpMetrics))

	s := &Server{
		cfg:    c,
		deps:   deps,
		logger: o.logger,
		meter:  o.meter,
		engine: engine,
	}
	s.routes()
	s.srv = &http.Server{
		Addr:         c.Addr,
		Handler:      engine,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/metrics", gin.WrapH(s.meter.Handler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/breakers", s.listBreakers)
	v1.GET("/breakers/:name", s.getBreaker)
	v1.GET("/compensations/:tripRequestId", s.listCompensations)
	v1.GET("/manual-interventions", s.listManualInterventions)
	v1.GET("/kill-switch", s.killSwitchStatus)
	v1.GET("/kill-switch/auto-booking", s.canAutoBook)

	if s.deps.Auth == nil {
		s.logger.Warn("admin auth not configured, mutating endpoints disabled")
		return
	}
	ops := v1.Group("", s.deps.Auth.GinMiddleware(), auth.RequireRoles(auth.RoleOperator))
	if s.deps.Limiter != nil {
		ops.Use(ratelimit.GinMiddleware(s.deps.Limiter, operatorKey,
			func(*gin.Context) ratelimit.Limit { return s.cfg.OpsRateLimit }))
	}
	ops.POST("/breakers/reset", s.resetAllBreakers)
	ops.POST("/breakers/:name/reset", s.resetBreaker)
	ops.PUT("/kill-switch/:flag", s.setKillSwitch)
}

// operatorKey 按操作员限流
func operatorKey(c *gin.Context) string {
	claims, ok := auth.GetClaims(c)
	if !ok || claims.Subject == "" {
		return ""
	}
	return "admin:ops:" + claims.Subject
}

// Handler 返回 http.Handler，便于测试和嵌入
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr 返回实际监听地址，Serve 之前返回配置的地址
func (s *Server) Addr() string {
	if addr, ok := s.bound.Load().(string); ok {
		return addr
	}
	return s.cfg.Addr
}

// Serve 在 l 上提供服务，直到 Shutdown
func (s *Server) Serve(l net.Listener) error {
	s.bound.Store(l.Addr().String())
	s.logger.Info("admin server listening", clog.String("addr", l.Addr().String()))
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Wrap(err, "admin server")
	}
	return nil
}

// ListenAndServe 监听 Config.Addr
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "listen %s", s.cfg.Addr)
	}
	return s.Serve(l)
}

// Shutdown 优雅关闭，ctx 没有截止时间时使用 ShutdownTimeout
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("admin server shutting down")
	return s.srv.Shutdown(ctx)
}
