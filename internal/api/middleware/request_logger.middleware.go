package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

const maxLoggedBody = 1024

// RequestLogger emits one structured line per request, leveled by
// response status.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"request_id", c.Request.Header.Get("X-Request-ID"),
			"content_length", c.Request.ContentLength,
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}
		logByStatus(log, c.Writer.Status(), fields)
	}
}

// RequestLoggerWithBody additionally captures request and response
// bodies for debugging. Ingestion endpoints are exempt: their bodies
// are raw log lines and logging them would double the log volume.
func RequestLoggerWithBody(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		capture := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = capture

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"request_id", c.Request.Header.Get("X-Request-ID"),
			"content_length", c.Request.ContentLength,
		}
		if n := len(requestBody); n > 0 && n < maxLoggedBody && !isIngestEndpoint(c.Request.URL.Path) {
			fields = append(fields, "request_body", string(requestBody))
		}
		if status >= 400 || gin.Mode() == gin.DebugMode {
			if body := capture.body.String(); len(body) < maxLoggedBody {
				fields = append(fields, "response_body", body)
			}
		}
		logByStatus(log, status, fields)
	}
}

func logByStatus(log logger.Logger, status int, fields []interface{}) {
	switch {
	case status >= 500:
		log.Error("HTTP Request", fields...)
	case status >= 400:
		log.Warn("HTTP Request", fields...)
	default:
		log.Info("HTTP Request", fields...)
	}
}

// capturingWriter tees the response body into a buffer.
type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// isIngestEndpoint matches the log intake routes but not the recent
// search routes nested under the same prefix.
func isIngestEndpoint(path string) bool {
	return strings.Contains(path, "/api/v1/logs") && !strings.Contains(path, "/logs/recent")
}
