package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"taskboard/internal/model"
	"taskboard/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// 写入 gin 上下文的键。
const (
	CtxUserID    = "userID"
	CtxUserRole  = "role"
	CtxSessionID = "sessionID"
	CtxUser      = "currentUser"
)

type customClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// UserResolver 将 Token 中的用户 ID 解析为数据库里的活跃用户。
type UserResolver interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
}

// SessionChecker 校验 Token 携带的会话是否仍然有效。
type SessionChecker interface {
	Validate(ctx context.Context, sessionID string) (bool, error)
}

// AuthMiddleware 校验 JWT 并将用户身份写入上下文。
//
// 校验顺序固定：签名与过期时间 -> 会话（jti）仍然有效 -> 用户记录存在且可用。
// 任何一步失败都返回 401，角色检查只会在身份确立之后发生（RequireRole）。
func AuthMiddleware(jwtSecret string, algorithm string, users UserResolver, sessions SessionChecker) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	if algorithm == "" {
		algorithm = "HS256"
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthenticated(c, "missing authorization")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthenticated(c, "invalid authorization header")
			return
		}

		tokenStr := parts[1]
		claims := &customClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{algorithm}))
		if err != nil || !token.Valid {
			abortUnauthenticated(c, "invalid token")
			return
		}

		if claims.Subject == "" {
			abortUnauthenticated(c, "invalid token subject")
			return
		}
		uid, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			abortUnauthenticated(c, "invalid user id")
			return
		}

		// 会话被吊销（登出/删号）时，即使签名和有效期都还通过也拒绝。
		if sessions != nil {
			ok, err := sessions.Validate(c.Request.Context(), claims.ID)
			if err != nil || !ok {
				abortUnauthenticated(c, "session expired")
				return
			}
		}

		user, err := users.GetUser(c.Request.Context(), uint(uid))
		if err != nil || user == nil {
			abortUnauthenticated(c, "user not found")
			return
		}
		if !user.IsActive {
			metrics.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
			c.JSON(http.StatusForbidden, gin.H{"error": "account inactive"})
			c.Abort()
			return
		}

		c.Set(CtxUserID, user.ID)
		c.Set(CtxUserRole, user.Role)
		c.Set(CtxSessionID, claims.ID)
		c.Set(CtxUser, user)
		c.Next()
	}
}

// RequireRole 在认证完成之后按角色放行。必须挂在 AuthMiddleware 之后。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		current, ok := c.Get(CtxUserRole)
		if !ok || current != role {
			metrics.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	metrics.AuthFailuresTotal.WithLabelValues("unauthenticated").Inc()
	c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
	c.Abort()
}
