// Package db provides the shared PostgreSQL connection pool used by
// internal/apikey and internal/issue: a thin wrapper over *sql.DB with
// production-ready pool defaults and a timeout-bounded health check.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	postgresDriver         = "postgres"
	ctxTimeout             = 5 * time.Second
)

// ErrDatabaseURLEmpty is returned when the configured database URL is empty.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig reads PostgreSQL configuration from the environment, falling
// back to production-ready defaults for everything but the URL itself.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     getEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: getEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// Validate reports whether c has a usable database URL.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns c's URL with any password replaced by "***",
// safe to include in logs.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAt := strings.LastIndex(afterScheme, "@")
	if lastAt == -1 {
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAt]

	colon := strings.Index(userInfo, ":")
	if colon == -1 {
		return c.databaseURL
	}

	username := userInfo[:colon]
	password := userInfo[colon+1:]

	if password == "" {
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAt:]

	return scheme + "://" + username + ":***" + hostAndRest
}

// Connection wraps *sql.DB with a configured pool and a health check.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pooled connection per config and pings it once
// before returning, so callers never hold a Connection that can't reach
// the database at startup.
func NewConnection(config *Config) (*Connection, error) {
	sqlDB, err := sql.Open(postgresDriver, config.databaseURL)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	return &Connection{sqlDB}, nil
}

// HealthCheck pings the connection with a bounded timeout if ctx is nil.
func (c *Connection) HealthCheck(ctx context.Context) error { //nolint: contextcheck
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)
		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the underlying pool. Safe to call more than once.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Stats exposes pool statistics for observability.
func (c *Connection) Stats() sql.DBStats {
	return c.DB.Stats()
}

func getEnvStr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}

	return defaultValue
}

// GetEnvLogLevel returns the environment variable value or a default if not set.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}

	return defaultValue
}
