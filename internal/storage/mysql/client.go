package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/platformbuilds/atalaya/internal/config"
)

type Client struct {
	DB *sql.DB
}

func dsnFrom(cfg config.MySQLConfig) string {
	user := cfg.User
	if user == "" {
		user = "root"
	}
	pass := cfg.Password
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "atalaya"
	}

	params := url.Values{}
	params.Set("parseTime", "true")
	if cfg.TLS {
		params.Set("tls", "preferred")
	}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", auth, host, port, dbName, params.Encode())
}

func Connect(cfg config.MySQLConfig) (*Client, error) {
	dsn := dsnFrom(cfg)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	c := &Client{DB: db}
	if err := c.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error { return c.DB.Close() }

func (c *Client) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_rules (
            id VARCHAR(64) NOT NULL,
            name VARCHAR(255) NOT NULL,
            description TEXT,
            type VARCHAR(32) NOT NULL,
            severity VARCHAR(16) NOT NULL,
            enabled TINYINT(1) DEFAULT 1,
            suppress_minutes INT DEFAULT 5,
            params JSON,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
            PRIMARY KEY (id)
        )`,
		// open_marker is 1 while the instance is OPEN and NULL once it
		// leaves that state. NULLs never collide in a MySQL unique index,
		// so the key admits exactly one OPEN row per (rule, source, host)
		// while resolved history accumulates freely.
		`CREATE TABLE IF NOT EXISTS alert_instances (
            id VARCHAR(64) NOT NULL,
            title VARCHAR(512),
            description TEXT,
            severity VARCHAR(16) NOT NULL,
            rule_id VARCHAR(64) NOT NULL,
            rule_name VARCHAR(255),
            triggered_by VARCHAR(255) NOT NULL,
            host VARCHAR(255) NOT NULL,
            status VARCHAR(16) NOT NULL,
            open_marker TINYINT(1) NULL,
            trigger_count BIGINT DEFAULT 1,
            first_occurrence TIMESTAMP(3) NOT NULL,
            last_occurrence TIMESTAMP(3) NOT NULL,
            acknowledged_at TIMESTAMP(3) NULL,
            resolved_at TIMESTAMP(3) NULL,
            metadata JSON,
            tags JSON,
            PRIMARY KEY (id),
            UNIQUE KEY uq_open_alert (rule_id, triggered_by, host, open_marker),
            KEY idx_instance_status (status),
            KEY idx_instance_severity (severity)
        )`,
	}
	for _, s := range stmts {
		if _, err := c.DB.Exec(s); err != nil {
			return fmt.Errorf("ensure schema failed: %s: %w", strings.SplitN(s, "(", 2)[0], err)
		}
	}
	return nil
}
