package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

const (
	metricNATSConnectAttempts = "connector_nats_connect_attempts_total"
	metricNATSActive          = "connector_nats_active_connections"
)

type natsConnector struct {
	cfg             *NATSConfig
	conn            *nats.Conn
	logger          clog.Logger
	healthy         atomic.Bool
	mu              sync.RWMutex
	connectAttempts metrics.Counter
	active          metrics.Gauge
}

// NewNATS 创建 NATS 连接器
func NewNATS(cfg *NATSConfig, opts ...Option) (NATSConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "nats config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Wrapf(ErrConfig, "nats: %v", err)
	}

	opt := newOptions(opts)
	c := &natsConnector{
		cfg:    cfg,
		logger: opt.logger.With(clog.String("connector", "nats"), clog.String("name", cfg.Name)),
	}

	var err error
	c.connectAttempts, err = opt.meter.Counter(metricNATSConnectAttempts, "NATS connection attempts by result")
	if err != nil {
		return nil, xerrors.Wrap(err, "create nats connect counter")
	}
	c.active, err = opt.meter.Gauge(metricNATSActive, "Active NATS connections")
	if err != nil {
		return nil, xerrors.Wrap(err, "create nats active gauge")
	}

	return c, nil
}

func (c *natsConnector) natsOptions() []nats.Option {
	natsOpts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.PingInterval(c.cfg.PingInterval),
		nats.MaxPingsOutstanding(c.cfg.MaxPingsOut),
		nats.Timeout(c.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.healthy.Store(false)
			c.logger.Warn("nats disconnected", clog.Error(err))
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.healthy.Store(true)
			c.logger.Info("nats reconnected", clog.String("url", conn.ConnectedUrl()))
		}),
	}

	if c.cfg.Username != "" && c.cfg.Password != "" {
		natsOpts = append(natsOpts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		natsOpts = append(natsOpts, nats.Token(c.cfg.Token))
	}
	return natsOpts
}

// Connect 建立连接
func (c *natsConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	c.logger.Info("attempting to connect to nats", clog.String("url", c.cfg.URL))

	conn, err := nats.Connect(c.cfg.URL, c.natsOptions()...)
	if err != nil {
		c.connectAttempts.Inc(ctx, metrics.L("connector", c.cfg.Name), metrics.L("result", "failure"))
		c.logger.Error("failed to connect to nats", clog.Error(err), clog.String("url", c.cfg.URL))
		return xerrors.Wrapf(ErrConnection, "nats connector[%s]: %v", c.cfg.Name, err)
	}

	c.conn = conn
	c.connectAttempts.Inc(ctx, metrics.L("connector", c.cfg.Name), metrics.L("result", "success"))
	c.active.Set(ctx, 1, metrics.L("connector", c.cfg.Name))
	c.healthy.Store(true)
	c.logger.Info("successfully connected to nats", clog.String("url", c.cfg.URL))

	return nil
}

// Close 关闭连接，会先 Drain 以投递已缓冲的消息
func (c *natsConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.conn == nil {
		return nil
	}

	c.logger.Info("closing nats connection", clog.String("url", c.cfg.URL))
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed, closing", clog.Error(err))
		c.conn.Close()
	}
	c.conn = nil
	c.active.Set(context.Background(), 0, metrics.L("connector", c.cfg.Name))
	c.logger.Info("nats connection closed successfully")
	return nil
}

// HealthCheck 检查连接健康状态
func (c *natsConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrClientNil, "nats connector[%s]", c.cfg.Name)
	}

	status := conn.Status()
	if status != nats.CONNECTED {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrHealthCheck, "nats connector[%s]: connection status %s", c.cfg.Name, status)
	}

	c.healthy.Store(true)
	return nil
}

// IsHealthy 返回缓存的健康状态
func (c *natsConnector) IsHealthy() bool {
	return c.healthy.Load()
}

// Name 返回连接器名称
func (c *natsConnector) Name() string {
	return c.cfg.Name
}

// GetClient 返回 NATS 连接
func (c *natsConnector) GetClient() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}
