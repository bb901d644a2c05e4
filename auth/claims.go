package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims 操作员令牌载荷
type Claims struct {
	jwt.RegisteredClaims

	Roles []string `json:"roles,omitempty"`
}
