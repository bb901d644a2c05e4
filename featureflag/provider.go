// Package featureflag 提供布尔特性开关和紧急熔断开关（kill switch）。
//
// Provider 是开关的数据源，StaticProvider 适合测试和单机运行，
// RedisProvider 在多进程间共享开关并带有短 TTL 的本地缓存。
// KillSwitch 在其上实现预订管道的分级紧急开关：
//
//	flags, _ := featureflag.NewRedisProvider(redisClient)
//	ks := featureflag.NewKillSwitch(flags)
//	if err := ks.CanProceedWithAutoBooking(ctx, userID); err != nil {
//		// 返回 503，稍后重试
//	}
package featureflag

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Provider 布尔开关数据源
//
// userID 非空时优先使用针对该用户的取值；开关不存在时返回 def。
// 查询失败时返回 def 和错误，由调用方决定失败策略。
type Provider interface {
	BoolFlag(ctx context.Context, key, userID string, def bool) (bool, error)
}

// StaticProvider 内存开关，并发安全
type StaticProvider struct {
	mu    sync.RWMutex
	flags map[string]bool
	err   error
}

// NewStaticProvider 创建内存开关
func NewStaticProvider(flags map[string]bool) *StaticProvider {
	p := &StaticProvider{flags: make(map[string]bool, len(flags))}
	for k, v := range flags {
		p.flags[k] = v
	}
	return p
}

// Set 设置全局开关
func (p *StaticProvider) Set(key string, value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags[key] = value
}

// SetForUser 设置针对某个用户的开关
func (p *StaticProvider) SetForUser(key, userID string, value bool) {
	p.Set(userField(key, userID), value)
}

// SetFlag 与 RedisProvider.SetFlag 形态一致，userID 为空时设置全局值
func (p *StaticProvider) SetFlag(_ context.Context, key, userID string, value bool) error {
	if userID != "" {
		p.SetForUser(key, userID, value)
		return nil
	}
	p.Set(key, value)
	return nil
}

// Delete 删除开关，之后返回默认值
func (p *StaticProvider) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.flags, key)
}

// FailWith 之后所有查询都返回该错误，传 nil 恢复
func (p *StaticProvider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *StaticProvider) BoolFlag(_ context.Context, key, userID string, def bool) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return def, p.err
	}
	if userID != "" {
		if v, ok := p.flags[userField(key, userID)]; ok {
			return v, nil
		}
	}
	if v, ok := p.flags[key]; ok {
		return v, nil
	}
	return def, nil
}

func userField(key, userID string) string {
	return key + ":user:" + userID
}

// parseBool 接受 true/false/1/0/on/off/yes/no，大小写不敏感
func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "yes":
		return true, true
	case "off", "no":
		return false, true
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}
