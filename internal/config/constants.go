package config

const (
	// Service information
	ServiceName    = "atalaya"
	ServiceVersion = "v1.3.0"
	APIVersion     = "v1"

	// Default timeouts
	DefaultHTTPTimeout     = 30000 // milliseconds
	DefaultSearchTimeout   = 30    // seconds
	DefaultShutdownTimeout = 30000 // milliseconds

	// Cache defaults (seconds)
	DefaultCacheTTL      = 300
	DefaultSweepInterval = 300

	// Real-time view caps
	DefaultRecentLogsCap   = 1000
	DefaultRecentErrorsCap = 500

	// Hourly ingestion buckets are kept slightly past a full day so the
	// current hour never expires mid-write.
	HourlyBucketRetention = 25 // hours
)
