package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/accountd/pkg/errors"
	"github.com/charlesng35/accountd/pkg/response"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimit limits requests per (clientIP, path) within a fixed window using
// the supplied store. A nil store falls back to a process-local one.
func RateLimit(maxRequests int, window time.Duration, store RateStore) gin.HandlerFunc {
	if store == nil {
		store = NewMemoryRateStore()
	}

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := rateLimitKeyPrefix + c.ClientIP() + "|" + c.FullPath()

		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// A broken limiter backend must not take the API down with it.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			response.Error(c, apperrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
