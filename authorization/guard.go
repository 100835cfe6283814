package authorization

import (
	"net/http"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard 封装 JWT 中间件以提供授权辅助方法。
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// NewGuard 根据给定的 JWT 中间件构建守卫辅助。
func NewGuard(jwtMiddleware *jwt.GinJWTMiddleware) *Guard {
	if jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: jwtMiddleware}
}

// Guard 返回模块内部复用的守卫实例。
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return NewGuard(m.jwtMiddleware)
}

// RequireAuthenticated 确保请求携带有效的 JWT。
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "USER_NOT_AUTHENTICATED"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// OptionalAuthenticated 尝试解析 JWT 但不强制。匿名请求照常放行,
// 只读接口据此降级为空结果而不是 401。
func (g *Guard) OptionalAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		claims, err := g.jwt.GetClaimsFromJWT(c)
		if err != nil {
			c.Next()
			return
		}

		exp, ok := claims["exp"].(float64)
		if !ok || int64(exp) < g.jwt.TimeFunc().Unix() {
			c.Next()
			return
		}

		// jwt.ExtractClaims 从该键读取 claims。
		c.Set("JWT_PAYLOAD", claims)
		c.Next()
	}
}
