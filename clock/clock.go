// Package clock 提供可注入的时钟抽象。
//
// 熔断器、报价校验、补偿协调器等组件都通过 Clock 获取当前时间，
// 测试中使用 Manual 精确推进时间，不依赖 time.Sleep。
package clock

import (
	"sync"
	"time"
)

// Clock 提供当前时间
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real 返回系统时钟，仅在程序入口和默认值处使用
func Real() Clock {
	return realClock{}
}

// Fixed 永远返回同一时刻
type Fixed struct {
	T time.Time
}

func (c Fixed) Now() time.Time { return c.T }

// NewFixed 返回固定时钟
func NewFixed(t time.Time) Clock {
	return Fixed{T: t}
}

// Func 将函数适配为 Clock
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Manual 可手动推进的时钟，并发安全
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 以 start 为初始时刻创建 Manual
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 将时钟向前推进 d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set 将时钟设置为 t
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// OrReal 在 c 为 nil 时返回系统时钟
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
