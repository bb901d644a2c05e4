package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/ceyewan/tripguard/xerrors"
)

// 启动阶段，越小越先启动、越晚停止
const (
	PhaseTelemetry = 0
	PhaseConnector = 10
	PhaseComponent = 20
	PhaseService   = 30
)

// Hook 一个由应用管理生命周期的对象，Start 与 Stop 均可为空
type Hook struct {
	Name  string
	Phase int
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

type lifecycle struct {
	hooks   []Hook
	started []Hook
}

func (l *lifecycle) register(h Hook) {
	l.hooks = append(l.hooks, h)
}

// startAll 按阶段顺序启动，失败时返回 *LifecycleError，已启动的对象由 stopAll 负责停止
func (l *lifecycle) startAll(ctx context.Context) error {
	sort.SliceStable(l.hooks, func(i, j int) bool { return l.hooks[i].Phase < l.hooks[j].Phase })
	for _, h := range l.hooks {
		if h.Start != nil {
			if err := h.Start(ctx); err != nil {
				return &LifecycleError{Phase: h.Phase, Name: h.Name, Cause: err}
			}
		}
		l.started = append(l.started, h)
	}
	return nil
}

// stopAll 逆序停止已启动的对象；未调用 startAll 时停止全部已注册对象
func (l *lifecycle) stopAll(ctx context.Context) error {
	targets := l.started
	if targets == nil {
		targets = l.hooks
	}
	var errs []error
	for i := len(targets) - 1; i >= 0; i-- {
		if h := targets[i]; h.Stop != nil {
			errs = append(errs, xerrors.Wrapf(h.Stop(ctx), "stop %s", h.Name))
		}
	}
	l.started, l.hooks = nil, nil
	return xerrors.Combine(errs...)
}

// LifecycleError 启动失败的对象
type LifecycleError struct {
	Phase int
	Name  string
	Cause error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle error in phase %d [%s]: %v", e.Phase, e.Name, e.Cause)
}

func (e *LifecycleError) Unwrap() error {
	return e.Cause
}
