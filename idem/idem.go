// Package idem 保证同一预订请求只被执行一次。
//
// 重试、重复投递或用户重复点击都可能让同一个 booking_request_id 进入两次预订流程，
// 第二次执行会造成重复扣款。Guard 用锁挡住并发的重复请求，并缓存成功结果，
// 之后的相同请求直接回放结果：
//
//	guard, _ := idem.New(&idem.Config{Driver: idem.DriverRedis}, idem.WithRedis(redisClient))
//	out, replayed, err := idem.Do(ctx, guard, "booking:"+req.BookingRequestID,
//		func(ctx context.Context) (*booking.Outcome, error) {
//			return orchestrator.Attempt(ctx, req)
//		})
//
// fn 返回错误时不缓存，锁立即释放，调用方可以重试。
package idem

import (
	"context"
	"encoding/json"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

// MetricExecutionsTotal 幂等执行计数，标签: result (executed|replayed|concurrent|error)
const MetricExecutionsTotal = "idem_executions_total"

// Guard 幂等守卫，并发安全
type Guard struct {
	cfg    Config
	store  Store
	logger clog.Logger
	total  metrics.Counter
}

// New 创建幂等守卫
func New(cfg *Config, opts ...Option) (*Guard, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var store Store
	switch c.Driver {
	case DriverRedis:
		if o.redis == nil {
			return nil, ErrRedisRequired
		}
		store = newRedisStore(o.redis, c.Prefix)
	case DriverMemory:
		store = newMemoryStore(c.Prefix, o.clock)
	}

	total, err := o.meter.Counter(MetricExecutionsTotal, "Idempotent executions by result")
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: create counter")
	}

	o.logger.Info("idempotency guard created",
		clog.String("driver", string(c.Driver)),
		clog.String("prefix", c.Prefix),
		clog.Duration("result_ttl", c.ResultTTL),
		clog.Duration("lock_ttl", c.LockTTL))

	return &Guard{cfg: c, store: store, logger: o.logger, total: total}, nil
}

// Execute 以 key 为幂等键执行 fn，返回结果的 JSON 编码
//
// 命中缓存时 replayed 为 true 且不执行 fn；key 正在被其他请求处理时返回 ErrConcurrentRequest。
func (g *Guard) Execute(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) (result []byte, replayed bool, err error) {
	if key == "" {
		return nil, false, ErrKeyEmpty
	}

	cached, err := g.store.GetResult(ctx, key)
	switch {
	case err == nil:
		g.record(ctx, "replayed")
		g.logger.DebugContext(ctx, "idempotent result replayed", clog.String("key", key))
		return cached, true, nil
	case !xerrors.Is(err, ErrResultNotFound):
		g.record(ctx, "error")
		return nil, false, xerrors.Wrap(err, "idem: get result")
	}

	token, locked, err := g.store.Lock(ctx, key, g.cfg.LockTTL)
	if err != nil {
		g.record(ctx, "error")
		return nil, false, xerrors.Wrap(err, "idem: acquire lock")
	}
	if !locked {
		g.record(ctx, "concurrent")
		g.logger.WarnContext(ctx, "concurrent duplicate request rejected", clog.String("key", key))
		return nil, false, ErrConcurrentRequest
	}

	stored := false
	defer func() {
		if stored {
			return
		}
		// 调用方的 ctx 可能已取消，解锁仍需完成
		if uerr := g.store.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
			g.logger.ErrorContext(ctx, "failed to release idempotency lock", clog.String("key", key), clog.Error(uerr))
		}
	}()

	result, err = fn(ctx)
	if err != nil {
		g.record(ctx, "error")
		return nil, false, err
	}

	if err := g.store.SetResult(context.WithoutCancel(ctx), key, result, g.cfg.ResultTTL, token); err != nil {
		// 结果已产生，只是无法缓存；返回结果，重复请求将再次执行
		g.logger.ErrorContext(ctx, "failed to store idempotent result", clog.String("key", key), clog.Error(err))
		g.record(ctx, "executed")
		return result, false, nil
	}
	stored = true
	g.record(ctx, "executed")
	return result, false, nil
}

// Do 是 Execute 的类型化版本，结果以 JSON 缓存
func Do[T any](ctx context.Context, g *Guard, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	raw, replayed, err := g.Execute(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, false, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, replayed, xerrors.Wrap(err, "idem: decode result")
	}
	return v, replayed, nil
}

func (g *Guard) record(ctx context.Context, result string) {
	g.total.Inc(ctx, metrics.L("result", result))
}
