package config

import (
	"time"

	"github.com/spf13/viper"
)

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetDefaultConfig returns a configuration populated with defaults only.
// Useful for tests and tooling that need a valid baseline.
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsTest returns true if running in test environment
func (c *Config) IsTest() bool {
	return c.Environment == "test"
}

// GetIndexTimeout returns the log index request timeout
func (c *Config) GetIndexTimeout() time.Duration {
	timeout := c.Index.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return time.Duration(timeout) * time.Millisecond
}

// GetSearchTimeout returns the per-search execution deadline
func (c *Config) GetSearchTimeout() time.Duration {
	timeout := c.Search.Timeout
	if timeout == 0 {
		timeout = DefaultSearchTimeout
	}
	return time.Duration(timeout) * time.Second
}

// GetCacheTTL returns the cache TTL as a duration
func (c *Config) GetCacheTTL() time.Duration {
	ttl := c.Cache.TTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return time.Duration(ttl) * time.Second
}

// GetSweepInterval returns how often expired suppressions are swept
func (c *Config) GetSweepInterval() time.Duration {
	interval := c.Alerting.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	return time.Duration(interval) * time.Second
}
