package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	validDrivers     = map[string]bool{"memory": true, "postgres": true, "sqlite": true, "mysql": true}
	validAuthMethods = map[string]bool{"password": true, "aws-iam": true, "azure": true, "google": true}
	validLevels      = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats     = map[string]bool{"text": true, "json": true}
)

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg, err := LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated reads the environment without validating, so callers can
// apply command line overrides first and call Validate themselves.
func LoadUnvalidated() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// loadStruct walks nested structs and fills every field carrying an env tag.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var result []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	// Store
	driver := strings.ToLower(c.Store.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be one of: memory, postgres, sqlite, mysql", c.Store.Driver))
	}
	if driver != "memory" && driver != "sqlite" && c.Store.DSN == "" && c.Store.Auth.Method != "google" {
		errs = append(errs, fmt.Sprintf("STORE_DSN is required for the %s driver", driver))
	}
	if c.Store.MaxConns <= 0 {
		errs = append(errs, "STORE_MAX_CONNS must be positive")
	}
	if c.Store.MinConns < 0 {
		errs = append(errs, "STORE_MIN_CONNS must be non-negative")
	}
	if c.Store.MaxConns < c.Store.MinConns {
		errs = append(errs, fmt.Sprintf("STORE_MAX_CONNS (%d) must be >= STORE_MIN_CONNS (%d)",
			c.Store.MaxConns, c.Store.MinConns))
	}
	if c.Store.ConnectAttempts <= 0 {
		errs = append(errs, "STORE_CONNECT_ATTEMPTS must be positive")
	}

	// Auth
	method := strings.ToLower(c.Store.Auth.Method)
	if !validAuthMethods[method] {
		errs = append(errs, fmt.Sprintf("STORE_AUTH_METHOD (%q) must be one of: password, aws-iam, azure, google", c.Store.Auth.Method))
	}
	if method != "" && method != "password" && driver != "postgres" {
		errs = append(errs, "STORE_AUTH_METHOD other than password requires STORE_DRIVER=postgres")
	}
	if method == "aws-iam" && c.Store.Auth.AWSRegion == "" {
		errs = append(errs, "AWS_REGION is required for aws-iam authentication")
	}
	if method == "google" && c.Store.Auth.GoogleInstance == "" {
		errs = append(errs, "GOOGLE_CLOUDSQL_INSTANCE is required for google authentication")
	}

	// Load
	if c.Load.BatchSize <= 0 {
		errs = append(errs, "LOAD_BATCH_SIZE must be positive")
	}
	if c.Load.Workers <= 0 {
		errs = append(errs, "LOAD_WORKERS must be positive")
	}
	if c.Load.BatchTimeout <= 0 {
		errs = append(errs, "LOAD_BATCH_TIMEOUT must be positive")
	}
	if c.Load.ResourceTimeout < 0 {
		errs = append(errs, "LOAD_RESOURCE_TIMEOUT must be non-negative")
	}
	if c.Load.MaxConcurrent <= 0 {
		errs = append(errs, "LOAD_MAX_CONCURRENT must be positive")
	}
	if c.Load.MaxWaitTime <= 0 {
		errs = append(errs, "LOAD_MAX_WAIT_TIME must be positive")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Logging
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation safe for logs. The DSN and secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d, APIKeys: %d}, ", c.Server.Host, c.Server.Port, len(c.Server.APIKeys))
	fmt.Fprintf(&b, "Store: {Driver: %q, DSN: [MASKED], Auth: %q, MaxConns: %d}, ",
		c.Store.Driver, c.Store.Auth.Method, c.Store.MaxConns)
	fmt.Fprintf(&b, "Load: {BatchSize: %d, Workers: %d, BatchTimeout: %s}, ",
		c.Load.BatchSize, c.Load.Workers, c.Load.BatchTimeout)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
