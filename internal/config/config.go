// Package config provides centralized configuration for tabload.
// Values come from environment variables with defaults, and everything is
// validated up front so a bad setting fails before any table is touched.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Load    LoadConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings for `tabload serve`.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for API requests (default: 60s).
	// Loads run in the background and are not bound by it.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// APIKeys enables X-API-Key checks on /api routes when non-empty.
	APIKeys []string `env:"SERVER_API_KEYS"`

	// TrustedProxies are the CIDRs whose X-Real-IP and X-Forwarded-For
	// headers are believed. Empty trusts no proxy.
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// StoreConfig selects and tunes the destination store.
type StoreConfig struct {
	// Driver is one of memory, postgres, sqlite, mysql (default: memory)
	Driver string `env:"STORE_DRIVER" default:"memory"`

	// DSN is the driver specific connection string.
	// Supports both STORE_DSN and DATABASE_URL.
	DSN string `env:"STORE_DSN" envAlt:"DATABASE_URL"`

	MaxConns        int           `env:"STORE_MAX_CONNS" default:"10"`
	MinConns        int           `env:"STORE_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"STORE_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"STORE_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectAttempts bounds the retries made while establishing the first
	// connection (default: 3).
	ConnectAttempts int           `env:"STORE_CONNECT_ATTEMPTS" default:"3"`
	ConnectDelay    time.Duration `env:"STORE_CONNECT_DELAY" default:"500ms"`

	// Auth is the postgres credential source: password, aws-iam, azure, google
	Auth AuthConfig
}

// AuthConfig holds cloud credential settings for the postgres driver.
type AuthConfig struct {
	Method string `env:"STORE_AUTH_METHOD" default:"password"`

	AWSRegion string `env:"AWS_REGION" envAlt:"AWS_DEFAULT_REGION"`

	AzureTenantID     string `env:"AZURE_TENANT_ID"`
	AzureClientID     string `env:"AZURE_CLIENT_ID"`
	AzureClientSecret string `env:"AZURE_CLIENT_SECRET"`

	// GoogleInstance is the Cloud SQL connection name (project:region:instance)
	GoogleInstance string `env:"GOOGLE_CLOUDSQL_INSTANCE"`
}

// LoadConfig holds import pipeline settings.
type LoadConfig struct {
	// BatchSize is the number of rows per insert batch (default: 1000)
	BatchSize int `env:"LOAD_BATCH_SIZE" default:"1000"`

	// Workers is the number of resources imported in parallel (default: 1)
	Workers int `env:"LOAD_WORKERS" default:"1"`

	// BatchTimeout bounds each store call made for a batch or a single row (default: 30s)
	BatchTimeout time.Duration `env:"LOAD_BATCH_TIMEOUT" default:"30s"`

	// ResourceTimeout bounds one resource end to end; 0 disables it
	ResourceTimeout time.Duration `env:"LOAD_RESOURCE_TIMEOUT" default:"0s"`

	// MaxConcurrent is the number of loads the server runs at once (default: 2)
	MaxConcurrent int `env:"LOAD_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a server request waits for a load slot (default: 30s)
	MaxWaitTime time.Duration `env:"LOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a whole server-started load (default: 30m)
	Timeout time.Duration `env:"LOAD_TIMEOUT" default:"30m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
