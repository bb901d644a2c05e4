package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/tripguard/clog"
)

// GinMiddleware 校验令牌并把 Claims 写入 gin.Context
func (a *jwtAuth) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := a.extractToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := a.ValidateToken(c.Request.Context(), token)
		if err != nil {
			a.opts.logger.WarnContext(c.Request.Context(), "operator token rejected",
				clog.String("path", c.FullPath()), clog.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRoles 要求同时拥有所有角色，需在 GinMiddleware 之后使用
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		for _, required := range roles {
			if !claims.HasRole(required) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: missing role " + required})
				return
			}
		}
		c.Next()
	}
}

// GetClaims 从 gin.Context 获取 Claims
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
