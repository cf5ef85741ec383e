package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"taxlink/internal/core/apperror"
	"taxlink/pkg/logger"
)

// NewRateLimiter builds an in-memory limiter from a formatted rate such as "60-M".
func NewRateLimiter(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return limiter.New(memory.NewStore(), rate), nil
}

// RateLimit limits requests per operator, or per client IP before authentication.
func RateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ContextOperatorID)
		if key == "" {
			key = c.ClientIP()
		}

		lctx, err := l.Get(c.Request.Context(), key)
		if err != nil {
			logger.Error(c.Request.Context(), "rate limit check failed", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprint(lctx.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprint(lctx.Remaining))

		if lctx.Reached {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "key", key, "limit", lctx.Limit)
			_ = c.Error(apperror.NewTooManyRequests("Too many requests. Please try again later."))
			c.Abort()
			return
		}

		c.Next()
	}
}
