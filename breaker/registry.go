package breaker

import (
	"context"
	"sort"
	"sync"

	"github.com/ceyewan/tripguard/clog"
)

// Registry 按名称管理熔断器，每个名称只有一个实例
//
// Registry 是显式依赖，由程序入口创建后注入到各调用方。
type Registry struct {
	opts *options

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry 创建熔断器注册表，opts 会应用到注册表创建的每个熔断器
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Registry{
		opts:     o,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get 获取或懒创建熔断器；同名熔断器已存在时忽略 cfg，以首次配置为准
func (r *Registry) Get(name string, cfg Config) (*CircuitBreaker, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}

	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb, nil
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb, nil
	}
	cb, err := newBreaker(name, cfg, r.opts)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = cb
	return cb, nil
}

// MustGet 类似 Get，配置非法时 panic，仅用于初始化阶段
func (r *Registry) MustGet(name string, cfg Config) *CircuitBreaker {
	cb, err := r.Get(name, cfg)
	if err != nil {
		panic(err)
	}
	return cb
}

// Lookup 查找已存在的熔断器
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names 返回已注册的名称，按字典序
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// AllMetrics 返回所有熔断器的快照，按名称排序
func (r *Registry) AllMetrics() []Metrics {
	names := r.Names()
	out := make([]Metrics, 0, len(names))
	for _, name := range names {
		if cb, ok := r.Lookup(name); ok {
			out = append(out, cb.Metrics())
		}
	}
	return out
}

// Reset 重置指定熔断器，不存在时返回 false
func (r *Registry) Reset(name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll 重置所有熔断器
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
	r.opts.logger.Info("all circuit breakers reset", clog.Int("count", len(breakers)))
}

// Wrap 返回受名为 name 的熔断器保护的函数
//
//	fetch := breaker.Wrap(reg, "duffel_offers", breaker.SearchAPI(), client.GetOffer)
//	offer, err := fetch(ctx, offerID)
func Wrap[A, R any](r *Registry, name string, cfg Config, fn func(context.Context, A) (R, error)) (func(context.Context, A) (R, error), error) {
	cb, err := r.Get(name, cfg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, arg A) (R, error) {
		return Do(ctx, cb, func(ctx context.Context) (R, error) {
			return fn(ctx, arg)
		})
	}, nil
}
