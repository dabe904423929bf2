package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/pkg/cache"
)

// Per-client budget in requests per minute. Heavy senders are expected to
// batch through /api/v1/logs/bulk or the stream intake instead of raising it.
const maxRequestsPerMinute = int64(3000)

// RateLimiter implements per-client rate limiting backed by Valkey, so the
// budget holds across replicas. Fails open when the counter is unavailable.
func RateLimiter(valkeyCache cache.ValkeyCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if client == "" {
			client = "unknown"
		}

		window := time.Now().Unix() / 60 // 1-minute windows
		key := fmt.Sprintf("rate_limit:%s:%d", client, window)

		count, err := valkeyCache.Incr(c.Request.Context(), key, 2*time.Minute)
		if err != nil {
			c.Next()
			return
		}

		remaining := maxRequestsPerMinute - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-Rate-Limit-Limit", strconv.FormatInt(maxRequestsPerMinute, 10))
		c.Header("X-Rate-Limit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-Rate-Limit-Reset", strconv.FormatInt((window+1)*60, 10))

		if count > maxRequestsPerMinute {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
