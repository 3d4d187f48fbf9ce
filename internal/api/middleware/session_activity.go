package middleware

import (
	"context"
	"time"

	"taskboard/internal/pkg/session"

	"github.com/gin-gonic/gin"
)

// SessionActivityMiddleware 更新当前会话的最后活跃时间，供 /auth/sessions 展示。
// 必须挂在 AuthMiddleware 之后。写入失败不影响请求本身。
func SessionActivityMiddleware(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sidVal, ok := c.Get(CtxSessionID)
		if !ok {
			c.Next()
			return
		}
		sid, ok := sidVal.(string)
		if !ok || sid == "" {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		_ = store.Touch(ctx, sid)

		c.Next()
	}
}
