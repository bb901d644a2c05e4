package auth

import (
	"time"

	"github.com/ceyewan/tripguard/xerrors"
)

// Config 认证配置
type Config struct {
	SecretKey string `mapstructure:"secret_key"` // 签名密钥，至少 32 字符
	Issuer    string `mapstructure:"issuer"`

	// AccessTokenTTL 默认 1h
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// TokenHeadName Authorization 头前缀，默认 Bearer
	TokenHeadName string `mapstructure:"token_head_name"`
}

func (c *Config) setDefaults() {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.TokenHeadName == "" {
		c.TokenHeadName = "Bearer"
	}
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return ErrInvalidConfig
	}
	if len(c.SecretKey) < 32 {
		return xerrors.Wrapf(ErrInvalidConfig, "secret_key must be at least 32 characters")
	}
	if c.AccessTokenTTL < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "access_token_ttl must be positive")
	}
	return nil
}
