package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/config"
)

// Header values served when the config leaves them unset.
const (
	defaultAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	defaultAllowHeaders  = "Origin, Content-Type, Accept, Authorization, X-Request-ID"
	defaultExposeHeaders = "X-Rate-Limit-Limit, X-Rate-Limit-Remaining, X-Rate-Limit-Reset"
	defaultMaxAgeSeconds = 43200 // 12 hours
)

// CORSMiddleware handles cross-origin access for dashboards and
// ingestion agents calling the API from a browser context. Static
// header values are joined once at construction, not per request.
func CORSMiddleware(corsConfig config.CORSConfig) gin.HandlerFunc {
	methods := joinOr(corsConfig.AllowedMethods, defaultAllowMethods)
	headers := joinOr(corsConfig.AllowedHeaders, defaultAllowHeaders)
	exposed := joinOr(corsConfig.ExposedHeaders, defaultExposeHeaders)
	maxAge := strconv.Itoa(defaultMaxAgeSeconds)
	if corsConfig.MaxAge > 0 {
		maxAge = strconv.Itoa(corsConfig.MaxAge)
	}

	return func(c *gin.Context) {
		if origin := c.Request.Header.Get("Origin"); isOriginAllowed(origin, corsConfig.AllowedOrigins) {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Expose-Headers", exposed)
		c.Header("Access-Control-Max-Age", maxAge)
		if corsConfig.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

// isOriginAllowed matches origin against the configured list. "*"
// admits everything and "*.domain" admits subdomains. An empty list
// admits local development hosts only.
func isOriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	}

	for _, candidate := range allowed {
		switch {
		case candidate == "*":
			return true
		case candidate == origin:
			return true
		case strings.HasPrefix(candidate, "*."):
			if strings.HasSuffix(origin, strings.TrimPrefix(candidate, "*.")) {
				return true
			}
		}
	}
	return false
}
