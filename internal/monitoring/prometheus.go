// Package monitoring provides Prometheus metrics for the Atalaya pipeline.
//
// Usage:
//
//  1. Setup metrics in your main function:
//     router := gin.New()
//     monitoring.SetupPrometheusMetrics(router, cfg.Monitoring.MetricsPath)
//
//  2. Add HTTP metrics middleware:
//     router.Use(monitoring.HTTPMetricsMiddleware())
//
//  3. Record custom metrics where work happens:
//
//     monitoring.RecordIngestedRecord("payments", "JAVA_LOG4J")
//     monitoring.RecordCacheOperation("get", "hit")
//     monitoring.RecordSearchQuery("FULL_TEXT", "success", time.Since(start))
//
// Available Metrics:
//
// HTTP:
//   - atalaya_http_requests_total{method, endpoint, status_code}
//   - atalaya_http_request_duration_seconds{method, endpoint}
//   - atalaya_active_connections
//
// Ingestion:
//   - atalaya_ingested_records_total{source, format}
//   - atalaya_ingest_failures_total{source, stage}
//   - atalaya_ingest_queue_depth
//
// Cache and database:
//   - atalaya_cache_operations_total{operation, result}
//   - atalaya_db_operations_total{operation, table, status}
//   - atalaya_db_operation_duration_seconds{operation, table}
//
// Alerting and notifications:
//   - atalaya_alerts_triggered_total{rule_type, severity}
//   - atalaya_alerts_suppressed_total{rule_type}
//   - atalaya_notifications_total{channel, status}
//
// Search:
//   - atalaya_search_queries_total{mode, status}
//   - atalaya_search_query_duration_seconds{mode}
//
// Stream and push:
//   - atalaya_stream_messages_total{status}
//   - atalaya_websocket_clients{topic}
//
// Errors and build info:
//   - atalaya_errors_total{type, component}
//   - atalaya_build_info{version, component, go_version}
package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atalaya_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion metrics
	ingestedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_ingested_records_total",
			Help: "Total number of log records accepted by the pipeline",
		},
		[]string{"source", "format"},
	)

	ingestFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_ingest_failures_total",
			Help: "Total number of per-record downstream failures by pipeline stage",
		},
		[]string{"source", "stage"},
	)

	ingestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atalaya_ingest_queue_depth",
			Help: "Records waiting in the ingestion queue",
		},
	)

	// Cache metrics
	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "result"}, // result: hit, miss, success, error
	)

	// Database operation metrics
	dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)

	dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atalaya_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "table"},
	)

	// Alerting metrics
	alertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_alerts_triggered_total",
			Help: "Total number of alert rule triggers",
		},
		[]string{"rule_type", "severity"},
	)

	alertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_alerts_suppressed_total",
			Help: "Total number of triggers swallowed by a suppression window",
		},
		[]string{"rule_type"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"channel", "status"},
	)

	// Search metrics
	searchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_search_queries_total",
			Help: "Total number of search queries",
		},
		[]string{"mode", "status"}, // status: success, timeout, invalid, error
	)

	searchQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atalaya_search_query_duration_seconds",
			Help:    "Search query duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// Stream consumer metrics
	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_stream_messages_total",
			Help: "Total number of messages consumed from the log stream",
		},
		[]string{"status"}, // status: processed, failed
	)

	// WebSocket gauge
	websocketClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atalaya_websocket_clients",
			Help: "Connected WebSocket clients per topic",
		},
		[]string{"topic"},
	)

	// Active connections gauge
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atalaya_active_connections",
			Help: "Number of active connections",
		},
	)

	// Error rate metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atalaya_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // type: http, ingest, db, cache, search, etc.
	)
)

// SetupPrometheusMetrics registers all collectors and exposes the scrape
// endpoint. Double registration is ignored so repeated setup in tests stays
// harmless.
func SetupPrometheusMetrics(router gin.IRoutes, path string) {
	if path == "" {
		path = "/metrics"
	}

	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "atalaya_build_info",
		Help: "Build information for Atalaya",
		ConstLabels: prometheus.Labels{
			"version":    "v1.3.0",
			"component":  "atalaya",
			"go_version": "1.24",
		},
	}, func() float64 { return 1 }))

	_ = prometheus.Register(httpRequestsTotal)
	_ = prometheus.Register(httpRequestDuration)
	_ = prometheus.Register(ingestedRecordsTotal)
	_ = prometheus.Register(ingestFailuresTotal)
	_ = prometheus.Register(ingestQueueDepth)
	_ = prometheus.Register(cacheOperationsTotal)
	_ = prometheus.Register(dbOperationsTotal)
	_ = prometheus.Register(dbOperationDuration)
	_ = prometheus.Register(alertsTriggeredTotal)
	_ = prometheus.Register(alertsSuppressedTotal)
	_ = prometheus.Register(notificationsTotal)
	_ = prometheus.Register(searchQueriesTotal)
	_ = prometheus.Register(searchQueryDuration)
	_ = prometheus.Register(streamMessagesTotal)
	_ = prometheus.Register(websocketClients)
	_ = prometheus.Register(activeConnections)
	_ = prometheus.Register(errorsTotal)

	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// HTTPMetricsMiddleware collects HTTP request metrics
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		// Normalize path for metrics (collapse IDs, etc.)
		endpoint := normalizeEndpoint(c.Request.URL.Path)

		activeConnections.Inc()
		defer activeConnections.Dec()

		c.Next()

		statusCode := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorsTotal.WithLabelValues("http", endpoint).Inc()
		}
	}
}

// RecordIngestedRecord counts a record that made it through parsing.
func RecordIngestedRecord(source, format string) {
	ingestedRecordsTotal.WithLabelValues(source, format).Inc()
}

// RecordIngestFailure counts a per-record downstream fault at a named stage.
func RecordIngestFailure(source, stage string) {
	ingestFailuresTotal.WithLabelValues(source, stage).Inc()
	errorsTotal.WithLabelValues("ingest", stage).Inc()
}

// SetIngestQueueDepth reports the current ingestion backlog.
func SetIngestQueueDepth(n float64) {
	ingestQueueDepth.Set(n)
}

// RecordCacheOperation records cache operation metrics
func RecordCacheOperation(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
	if result == "error" {
		errorsTotal.WithLabelValues("cache", operation).Inc()
	}
}

// RecordDBOperation records database operation metrics
func RecordDBOperation(operation, table string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues("db", table).Inc()
	}

	dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
	dbOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordAlertTriggered counts a trigger that created or bumped an instance.
func RecordAlertTriggered(ruleType, severity string) {
	alertsTriggeredTotal.WithLabelValues(ruleType, severity).Inc()
}

// RecordAlertSuppressed counts a trigger swallowed by a suppression window.
func RecordAlertSuppressed(ruleType string) {
	alertsSuppressedTotal.WithLabelValues(ruleType).Inc()
}

// RecordNotification counts one delivery attempt per channel.
func RecordNotification(channel, status string) {
	notificationsTotal.WithLabelValues(channel, status).Inc()
	if status == "error" {
		errorsTotal.WithLabelValues("notification", channel).Inc()
	}
}

// RecordSearchQuery records search query metrics
func RecordSearchQuery(mode, status string, duration time.Duration) {
	searchQueriesTotal.WithLabelValues(mode, status).Inc()
	searchQueryDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if status == "error" {
		errorsTotal.WithLabelValues("search", mode).Inc()
	}
}

// RecordStreamMessage counts one message consumed from the log stream.
func RecordStreamMessage(status string) {
	streamMessagesTotal.WithLabelValues(status).Inc()
}

// SetWebSocketClients reports the connected client count for a topic.
func SetWebSocketClients(topic string, n float64) {
	websocketClients.WithLabelValues(topic).Set(n)
}

// normalizeEndpoint collapses id-bearing path segments so metric cardinality
// stays bounded.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if isNumeric(part) || isUUID(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// isNumeric checks if a string is numeric
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isUUID matches the 8-4-4-4-12 hex layout used for record and alert ids.
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
			if !isHex {
				return false
			}
		}
	}
	return true
}
