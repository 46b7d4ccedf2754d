// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"fmt"
	"net/http"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/ratelimit"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware 对聊天入口做按用户的滑动窗口限流。
// 此中间件必须在 AuthMiddleware 之后使用。
// 限流元数据写入每一个响应的头部，包括放行的请求。
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userValue, exists := c.Get("user")
		if !exists {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
			return
		}
		user, ok := userValue.(*model.User)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "用户数据类型错误"})
			return
		}

		decision := limiter.Check(user.ID)
		resetAt := decision.ResetAt.UTC().Format(time.RFC3339)
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", resetAt)

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RateLimitExceeded",
				"message": fmt.Sprintf("请求过于频繁，已达窗口上限 %d 次，请在 %s 后重试", decision.Limit, resetAt),
				"resetAt": resetAt,
			})
			return
		}
		c.Next()
	}
}
