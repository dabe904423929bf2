// test-config.go - Simple test script to validate configuration loading
//
// Runs the same loader the server uses, so defaults, environment overrides
// and validation all apply. Usage:
//
//	go run scripts/test-config.go configs/config.yaml

package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/platformbuilds/atalaya/internal/config"
)

const (
	// MinArgsRequired represents the minimum number of command line arguments required
	MinArgsRequired = 2
	// ExitCodeError represents the exit code for errors
	ExitCodeError = 1
)

func main() {
	if len(os.Args) < MinArgsRequired {
		fmt.Println("Usage: go run test-config.go <config-file>")
		fmt.Println("Example: go run test-config.go configs/config.yaml")
		os.Exit(ExitCodeError)
	}

	configFile := os.Args[1]
	fmt.Printf("Testing configuration file: %s\n", configFile)

	if err := os.Setenv("CONFIG_PATH", configFile); err != nil {
		log.Fatalf("Failed to set CONFIG_PATH: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("\n=== Core ===")
	fmt.Printf("Environment: %s\n", cfg.Environment)
	fmt.Printf("Port: %d\n", cfg.Port)
	fmt.Printf("Log: level=%s format=%s\n", cfg.LogLevel, cfg.LogFormat)

	fmt.Println("\n=== Ingest ===")
	fmt.Printf("Workers: %d\n", cfg.Ingest.Workers)
	fmt.Printf("Queue Size: %d\n", cfg.Ingest.QueueSize)
	fmt.Printf("Default Source: %s\n", cfg.Ingest.DefaultSource)

	fmt.Println("\n=== Stream (NATS JetStream) ===")
	fmt.Printf("Enabled: %t\n", cfg.Stream.Enabled)
	if cfg.Stream.Enabled {
		fmt.Printf("URL: %s\n", cfg.Stream.URL)
		fmt.Printf("Stream: %s\n", cfg.Stream.Stream)
		fmt.Printf("Subjects: %s\n", strings.Join(cfg.Stream.Subjects, ", "))
		fmt.Printf("Durable: %s\n", cfg.Stream.Durable)
	}

	fmt.Println("\n=== Index ===")
	fmt.Printf("Endpoints: %s\n", strings.Join(cfg.Index.Endpoints, ", "))
	fmt.Printf("Index Name: %s\n", cfg.Index.IndexName)
	fmt.Printf("Timeout: %dms\n", cfg.Index.Timeout)
	if cfg.Index.Discovery.Enabled {
		fmt.Printf("Discovery: service=%s port=%d scheme=%s srv=%t\n",
			cfg.Index.Discovery.Service,
			cfg.Index.Discovery.Port,
			cfg.Index.Discovery.Scheme,
			cfg.Index.Discovery.UseSRV)
	}
	if cfg.Index.TLS.CABundlePath != "" {
		fmt.Printf("TLS CA Bundle: %s\n", cfg.Index.TLS.CABundlePath)
	}

	fmt.Println("\n=== Database ===")
	fmt.Printf("MySQL Enabled: %t\n", cfg.Database.MySQL.Enabled)
	if cfg.Database.MySQL.Enabled {
		fmt.Printf("MySQL: %s@%s:%d/%s\n",
			cfg.Database.MySQL.User,
			cfg.Database.MySQL.Host,
			cfg.Database.MySQL.Port,
			cfg.Database.MySQL.Database)
	}

	fmt.Println("\n=== Cache (Valkey) ===")
	fmt.Printf("Mode: %s\n", cfg.Cache.Mode)
	fmt.Printf("Nodes: %s\n", strings.Join(cfg.Cache.Nodes, ", "))
	fmt.Printf("TTL: %ds\n", cfg.Cache.TTL)

	fmt.Println("\n=== Alerting ===")
	fmt.Printf("Enabled: %t\n", cfg.Alerting.Enabled)
	if cfg.Alerting.Enabled {
		fmt.Printf("Rules Path: %s\n", cfg.Alerting.RulesPath)
		fmt.Printf("Watch Rules: %t\n", cfg.Alerting.WatchRules)
		fmt.Printf("Sweep Interval: %ds\n", cfg.Alerting.SweepInterval)
		fmt.Printf("Default Suppress: %dm\n", cfg.Alerting.DefaultSuppressMinutes)
	}

	fmt.Println("\n=== Search ===")
	fmt.Printf("Timeout: %ds\n", cfg.Search.Timeout)
	fmt.Printf("Default Size: %d\n", cfg.Search.DefaultSize)
	fmt.Printf("Max Page Size: %d\n", cfg.Search.MaxPageSize)
	fmt.Printf("Recent Index: enabled=%t max_docs=%d\n", cfg.Search.Recent.Enabled, cfg.Search.Recent.MaxDocs)

	fmt.Println("\n=== WebSocket ===")
	fmt.Printf("Enabled: %t\n", cfg.WebSocket.Enabled)

	fmt.Println("\n=== Monitoring ===")
	fmt.Printf("Metrics: enabled=%t path=%s prometheus=%t\n",
		cfg.Monitoring.Enabled, cfg.Monitoring.MetricsPath, cfg.Monitoring.PrometheusEnabled)
	fmt.Printf("Tracing: enabled=%t otlp=%s\n", cfg.Monitoring.TracingEnabled, cfg.Monitoring.OTLPEndpoint)

	fmt.Println("\nConfiguration loaded successfully!")
}
