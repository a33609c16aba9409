package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/logging"
	"github.com/JonMunkholm/tabload/internal/store"
	_ "github.com/JonMunkholm/tabload/internal/store/memory"
)

// loadConfig reads the environment file, applies flag overrides through
// override and validates the result. Logging is configured from it.
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (*config.Config, error) {
	if err := godotenv.Load(rootFlags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, rootFlags.envFile, err)
	}

	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = rootFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = rootFlags.logFormat
	}
	if override != nil {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func storeOptions(c config.StoreConfig) store.Options {
	return store.Options{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		ConnectAttempts: c.ConnectAttempts,
		ConnectDelay:    c.ConnectDelay,
		Auth: store.AuthOptions{
			Method:            c.Auth.Method,
			AWSRegion:         c.Auth.AWSRegion,
			AzureTenantID:     c.Auth.AzureTenantID,
			AzureClientID:     c.Auth.AzureClientID,
			AzureClientSecret: c.Auth.AzureClientSecret,
			GoogleInstance:    c.Auth.GoogleInstance,
		},
	}
}

func openStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	return store.Open(ctx, strings.ToLower(c.Driver), storeOptions(c))
}
