package config

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`

	Ingest       IngestConfig       `mapstructure:"ingest" yaml:"ingest"`
	Stream       StreamConfig       `mapstructure:"stream" yaml:"stream"`
	Index        IndexConfig        `mapstructure:"index" yaml:"index"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Alerting     AlertingConfig     `mapstructure:"alerting" yaml:"alerting"`
	Search       SearchConfig       `mapstructure:"search" yaml:"search"`
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`
	Integrations IntegrationsConfig `mapstructure:"integrations" yaml:"integrations"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket" yaml:"websocket"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring" yaml:"monitoring"`
}

// IngestConfig controls the log ingestion pipeline workers.
type IngestConfig struct {
	// Workers is the number of pipeline workers; records are sharded by
	// source so per-source ordering is preserved.
	Workers       int    `mapstructure:"workers" yaml:"workers"`
	QueueSize     int    `mapstructure:"queue_size" yaml:"queue_size"`
	DefaultSource string `mapstructure:"default_source" yaml:"default_source"`
}

// StreamConfig handles NATS JetStream log intake configuration
type StreamConfig struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled"`
	URL           string   `mapstructure:"url" yaml:"url"`
	Stream        string   `mapstructure:"stream" yaml:"stream"`
	Subjects      []string `mapstructure:"subjects" yaml:"subjects"`
	Durable       string   `mapstructure:"durable" yaml:"durable"`
	BatchSize     int      `mapstructure:"batch_size" yaml:"batch_size"`
	AckWait       int      `mapstructure:"ack_wait" yaml:"ack_wait"` // seconds
	MaxAckPending int      `mapstructure:"max_ack_pending" yaml:"max_ack_pending"`
}

// IndexConfig holds connection details for the OpenSearch-compatible
// log index used for durable storage and search.
type IndexConfig struct {
	Endpoints []string             `mapstructure:"endpoints" yaml:"endpoints"`
	IndexName string               `mapstructure:"index_name" yaml:"index_name"`
	Timeout   int                  `mapstructure:"timeout" yaml:"timeout"` // milliseconds
	Username  string               `mapstructure:"username" yaml:"username"`
	Password  string               `mapstructure:"password" yaml:"password"`
	Discovery IndexDiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	TLS       IndexTLSConfig       `mapstructure:"tls" yaml:"tls"`
}

// IndexDiscoveryConfig re-resolves index endpoints from DNS, replacing the
// static endpoint list. Useful with headless Kubernetes services.
type IndexDiscoveryConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Service        string `mapstructure:"service" yaml:"service"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Scheme         string `mapstructure:"scheme" yaml:"scheme"` // http | https
	RefreshSeconds int    `mapstructure:"refresh_seconds" yaml:"refresh_seconds"`
	UseSRV         bool   `mapstructure:"use_srv" yaml:"use_srv"`
}

// IndexTLSConfig configures outbound TLS towards the log index. The CA bundle
// file is watched and reloaded on change.
type IndexTLSConfig struct {
	CABundlePath       string `mapstructure:"ca_bundle_path" yaml:"ca_bundle_path"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// DatabaseConfig groups relational storage configuration
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql" yaml:"mysql"`
}

// MySQLConfig holds connection details for the alert store. When
// disabled, rules and instances are kept in memory only.
type MySQLConfig struct {
	Enabled  bool              `mapstructure:"enabled" yaml:"enabled"`
	Host     string            `mapstructure:"host" yaml:"host"`
	Port     int               `mapstructure:"port" yaml:"port"`
	User     string            `mapstructure:"user" yaml:"user"`
	Password string            `mapstructure:"password" yaml:"password"`
	Database string            `mapstructure:"database" yaml:"database"`
	TLS      bool              `mapstructure:"tls" yaml:"tls"`
	Params   map[string]string `mapstructure:"params" yaml:"params"`
}

// CacheConfig handles Valkey caching configuration
type CacheConfig struct {
	Mode     string   `mapstructure:"mode" yaml:"mode"` // single | cluster
	Nodes    []string `mapstructure:"nodes" yaml:"nodes"`
	DB       int      `mapstructure:"db" yaml:"db"`
	Password string   `mapstructure:"password" yaml:"password"`
	TTL      int      `mapstructure:"ttl" yaml:"ttl"` // seconds
}

// AlertingConfig controls rule evaluation and suppression.
type AlertingConfig struct {
	Enabled                bool   `mapstructure:"enabled" yaml:"enabled"`
	RulesPath              string `mapstructure:"rules_path" yaml:"rules_path"`
	WatchRules             bool   `mapstructure:"watch_rules" yaml:"watch_rules"`
	SweepInterval          int    `mapstructure:"sweep_interval" yaml:"sweep_interval"` // seconds
	DefaultSuppressMinutes int    `mapstructure:"default_suppress_minutes" yaml:"default_suppress_minutes"`
}

// SearchConfig holds query translation and execution limits
type SearchConfig struct {
	Timeout     int                `mapstructure:"timeout" yaml:"timeout"` // seconds
	DefaultSize int                `mapstructure:"default_size" yaml:"default_size"`
	MaxPageSize int                `mapstructure:"max_page_size" yaml:"max_page_size"`
	Recent      RecentSearchConfig `mapstructure:"recent" yaml:"recent"`
}

// RecentSearchConfig holds the in-memory live-tail index configuration
type RecentSearchConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	MaxDocs int  `mapstructure:"max_docs" yaml:"max_docs"`
}

// CORSConfig handles Cross-Origin Resource Sharing
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers" yaml:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}

// IntegrationsConfig handles alert notification channels
type IntegrationsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	MSTeams MSTeamsConfig `mapstructure:"ms_teams" yaml:"ms_teams"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
}

type MSTeamsConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
}

type EmailConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username    string   `mapstructure:"username" yaml:"username"`
	Password    string   `mapstructure:"password" yaml:"password"`
	FromAddress string   `mapstructure:"from_address" yaml:"from_address"`
	Recipients  []string `mapstructure:"recipients" yaml:"recipients"`
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
}

// WebhookConfig posts alert events to a generic HTTP endpoint
type WebhookConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// WebSocketConfig handles real-time streaming configuration
type WebSocketConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	MaxConnections  int  `mapstructure:"max_connections" yaml:"max_connections"`
	ReadBufferSize  int  `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int  `mapstructure:"write_buffer_size" yaml:"write_buffer_size"`
	PingInterval    int  `mapstructure:"ping_interval" yaml:"ping_interval"` // seconds
	MaxMessageSize  int  `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// MonitoringConfig handles self-monitoring configuration
type MonitoringConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath       string `mapstructure:"metrics_path" yaml:"metrics_path"`
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled" yaml:"prometheus_enabled"`
	TracingEnabled    bool   `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	OTLPEndpoint      string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}
