// Package auth 为运维接口提供基于 JWT 的操作员认证。
//
// 令牌使用 HS256 签名，通过 Authorization: Bearer <token> 传递；
// 修改状态的运维接口要求 operator 角色：
//
//	authn, _ := auth.New(&auth.Config{SecretKey: secret})
//	token, _ := authn.GenerateToken(ctx, "alice", auth.RoleOperator)
//	r.POST("/v1/breakers/reset", authn.GinMiddleware(), auth.RequireRoles(auth.RoleOperator), handler)
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

// 角色
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// ClaimsKey gin.Context 中保存 Claims 的键
const ClaimsKey = "auth:claims"

// MetricTokensValidated Token 验证计数，标签: status, error_type
const MetricTokensValidated = "auth_tokens_validated_total"

// Authenticator 操作员令牌的签发与校验
type Authenticator interface {
	GenerateToken(ctx context.Context, subject string, roles ...string) (string, error)
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	GinMiddleware() gin.HandlerFunc
}

type jwtAuth struct {
	cfg       Config
	opts      *options
	validated metrics.Counter
}

// New 创建 Authenticator
func New(cfg *Config, opts ...Option) (Authenticator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
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
	counter, err := o.meter.Counter(MetricTokensValidated, "Operator tokens validated")
	if err != nil {
		return nil, err
	}
	return &jwtAuth{cfg: c, opts: o, validated: counter}, nil
}

func (a *jwtAuth) GenerateToken(ctx context.Context, subject string, roles ...string) (string, error) {
	if subject == "" {
		return "", ErrInvalidClaims
	}
	now := a.opts.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.AccessTokenTTL)),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.SecretKey))
	if err != nil {
		return "", xerrors.Wrap(err, "failed to sign token")
	}
	a.opts.logger.InfoContext(ctx, "operator token generated",
		clog.String("subject", subject), clog.Strings("roles", roles))
	return signed, nil
}

func (a *jwtAuth) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.opts.clock.Now),
	}
	if a.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.cfg.Issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.SecretKey), nil
	}, parserOpts...)
	if err != nil {
		errType := "invalid_token"
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			errType, err = "expired", ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			errType, err = "invalid_signature", ErrInvalidSignature
		default:
			err = ErrInvalidToken
		}
		a.validated.Inc(ctx, metrics.L("status", "error"), metrics.L("error_type", errType))
		return nil, err
	}

	a.validated.Inc(ctx, metrics.L("status", "success"), metrics.L("error_type", ""))
	return claims, nil
}

// extractToken 从 Authorization 头提取令牌
func (a *jwtAuth) extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, a.cfg.TokenHeadName) || token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

// HasRole 是否拥有角色
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}
