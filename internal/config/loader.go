package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from various sources with priority order:
// 1. Environment variables
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	// Initialize Viper
	v := viper.New()

	// Set configuration file details
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/atalaya/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	// An explicit file wins over the search paths
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	}

	// Enable environment variable support
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ATALAYA")

	// Set default values
	setDefaults(v)

	// Read configuration file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars and defaults
	}

	// Override with environment variables
	overrideWithEnvVars(v)

	// Unmarshal to config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets reasonable default values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	// Ingest pipeline defaults
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 1024)
	v.SetDefault("ingest.default_source", "unknown")

	// NATS JetStream intake defaults
	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.url", "nats://localhost:4222")
	v.SetDefault("stream.stream", "LOGS")
	v.SetDefault("stream.subjects", []string{"logs.ingest.>"})
	v.SetDefault("stream.durable", "atalaya-ingest")
	v.SetDefault("stream.batch_size", 128)
	v.SetDefault("stream.ack_wait", 30)
	v.SetDefault("stream.max_ack_pending", 1024)

	// Log index defaults
	v.SetDefault("index.endpoints", []string{"http://localhost:9200"})
	v.SetDefault("index.index_name", "atalaya-logs")
	v.SetDefault("index.timeout", 30000)
	v.SetDefault("index.discovery.enabled", false)
	v.SetDefault("index.discovery.port", 9200)
	v.SetDefault("index.discovery.scheme", "http")
	v.SetDefault("index.discovery.refresh_seconds", 30)
	v.SetDefault("index.discovery.use_srv", false)

	// MySQL alert store defaults
	v.SetDefault("database.mysql.enabled", false)
	v.SetDefault("database.mysql.host", "127.0.0.1")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.user", "root")
	v.SetDefault("database.mysql.database", "atalaya")

	// Cache defaults (Valkey)
	v.SetDefault("cache.mode", "single")
	v.SetDefault("cache.nodes", []string{"localhost:6379"})
	v.SetDefault("cache.ttl", 300) // 5 minutes
	v.SetDefault("cache.db", 0)

	// Alerting defaults
	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.rules_path", "./configs/alert-rules.yaml")
	v.SetDefault("alerting.watch_rules", true)
	v.SetDefault("alerting.sweep_interval", 300) // 5 minutes
	v.SetDefault("alerting.default_suppress_minutes", 5)

	// Search defaults
	v.SetDefault("search.timeout", 30)
	v.SetDefault("search.default_size", 20)
	v.SetDefault("search.max_page_size", 1000)
	v.SetDefault("search.recent.enabled", true)
	v.SetDefault("search.recent.max_docs", 5000)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{"X-Cache", "X-Rate-Limit-Remaining"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 3600)

	// Integrations defaults
	v.SetDefault("integrations.slack.enabled", false)
	v.SetDefault("integrations.ms_teams.enabled", false)
	v.SetDefault("integrations.email.enabled", false)
	v.SetDefault("integrations.email.smtp_port", 587)
	v.SetDefault("integrations.webhook.enabled", false)

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.max_connections", 1000)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.ping_interval", 30)
	v.SetDefault("websocket.max_message_size", 1048576) // 1MB

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.tracing_enabled", false)
	v.SetDefault("monitoring.otlp_endpoint", "localhost:4317")
}

// overrideWithEnvVars explicitly handles environment variable overrides
func overrideWithEnvVars(v *viper.Viper) {
	// Server configuration
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("port", p)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("log_level", logLevel)
	}

	// NATS intake
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		v.Set("stream.url", natsURL)
		v.Set("stream.enabled", true)
	}

	// Log index endpoints
	if indexEndpoints := os.Getenv("INDEX_ENDPOINTS"); indexEndpoints != "" {
		endpoints := strings.Split(indexEndpoints, ",")
		for i, endpoint := range endpoints {
			endpoints[i] = strings.TrimSpace(endpoint)
		}
		v.Set("index.endpoints", endpoints)
	}

	// MySQL alert store
	if mysqlHost := os.Getenv("MYSQL_HOST"); mysqlHost != "" {
		v.Set("database.mysql.host", mysqlHost)
		v.Set("database.mysql.enabled", true)
	}

	if mysqlUser := os.Getenv("MYSQL_USER"); mysqlUser != "" {
		v.Set("database.mysql.user", mysqlUser)
	}

	if mysqlPassword := os.Getenv("MYSQL_PASSWORD"); mysqlPassword != "" {
		v.Set("database.mysql.password", mysqlPassword)
	}

	if mysqlDatabase := os.Getenv("MYSQL_DATABASE"); mysqlDatabase != "" {
		v.Set("database.mysql.database", mysqlDatabase)
	}

	// Valkey cache nodes
	if cacheNodes := os.Getenv("VALKEY_NODES"); cacheNodes != "" {
		nodes := strings.Split(cacheNodes, ",")
		for i, node := range nodes {
			nodes[i] = strings.TrimSpace(node)
		}
		v.Set("cache.nodes", nodes)
	}

	if cacheTTL := os.Getenv("CACHE_TTL"); cacheTTL != "" {
		if ttl, err := strconv.Atoi(cacheTTL); err == nil {
			v.Set("cache.ttl", ttl)
		}
	}

	// Alert rules file
	if rulesPath := os.Getenv("ALERT_RULES_PATH"); rulesPath != "" {
		v.Set("alerting.rules_path", rulesPath)
	}

	// External integrations
	if slackWebhook := os.Getenv("SLACK_WEBHOOK_URL"); slackWebhook != "" {
		v.Set("integrations.slack.webhook_url", slackWebhook)
		v.Set("integrations.slack.enabled", true)
	}

	if teamsWebhook := os.Getenv("TEAMS_WEBHOOK_URL"); teamsWebhook != "" {
		v.Set("integrations.ms_teams.webhook_url", teamsWebhook)
		v.Set("integrations.ms_teams.enabled", true)
	}

	if smtpHost := os.Getenv("SMTP_HOST"); smtpHost != "" {
		v.Set("integrations.email.smtp_host", smtpHost)
		v.Set("integrations.email.enabled", true)
	}

	if alertWebhook := os.Getenv("ALERT_WEBHOOK_URL"); alertWebhook != "" {
		v.Set("integrations.webhook.url", alertWebhook)
		v.Set("integrations.webhook.enabled", true)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	// Validate required fields
	if len(config.Index.Endpoints) == 0 {
		return fmt.Errorf("at least one log index endpoint is required")
	}

	if len(config.Cache.Nodes) == 0 {
		return fmt.Errorf("at least one Valkey cache node is required")
	}

	if config.Cache.Mode != "single" && config.Cache.Mode != "cluster" {
		return fmt.Errorf("invalid cache mode: %s", config.Cache.Mode)
	}

	// Validate port range
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, config.LogLevel) {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	// Validate environment
	validEnvironments := []string{"development", "staging", "production", "test"}
	if !contains(validEnvironments, config.Environment) {
		return fmt.Errorf("invalid environment: %s", config.Environment)
	}

	// Validate cache TTL
	if config.Cache.TTL < 1 {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}

	// Validate pipeline sizing
	if config.Ingest.Workers < 1 {
		return fmt.Errorf("ingest workers must be at least 1")
	}

	if config.Ingest.QueueSize < 1 {
		return fmt.Errorf("ingest queue size must be at least 1")
	}

	// Validate search limits
	if config.Search.Timeout < 1 {
		return fmt.Errorf("search timeout must be at least 1 second")
	}

	if config.Search.DefaultSize < 1 || config.Search.DefaultSize > config.Search.MaxPageSize {
		return fmt.Errorf("search default size must be between 1 and %d", config.Search.MaxPageSize)
	}

	// Validate alerting
	if config.Alerting.Enabled && config.Alerting.SweepInterval < 1 {
		return fmt.Errorf("alerting sweep interval must be at least 1 second")
	}

	// Validate NATS intake
	if config.Stream.Enabled && config.Stream.URL == "" {
		return fmt.Errorf("stream URL is required when stream intake is enabled")
	}

	// Validate index discovery
	if config.Index.Discovery.Enabled && config.Index.Discovery.Service == "" {
		return fmt.Errorf("index discovery service name is required when discovery is enabled")
	}

	// Validate MySQL store
	if config.Database.MySQL.Enabled {
		if config.Database.MySQL.Port < 1 || config.Database.MySQL.Port > 65535 {
			return fmt.Errorf("invalid MySQL port: %d", config.Database.MySQL.Port)
		}
		if config.Database.MySQL.Database == "" {
			return fmt.Errorf("MySQL database name is required")
		}
	}

	return nil
}
