// Package config defines all configuration for the signal bridge.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// deployment-level fields overridable via environment variables:
// ENVIRONMENT, HYPERLIQUID_TESTNET_KEY, HYPERLIQUID_MAINNET_KEY, MONGO_URL,
// DB_NAME.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hyperbridge/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Environment string         `mapstructure:"environment"`
	DryRun      bool           `mapstructure:"dry_run"`
	Server      ServerConfig   `mapstructure:"server"`
	Venue       VenueConfig    `mapstructure:"venue"`
	Database    DatabaseConfig `mapstructure:"database"`
	Uptime      UptimeConfig   `mapstructure:"uptime"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the operator HTTP surface.
type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// VenueConfig holds the signing keys per venue deployment. Only the key for
// the active environment is required.
type VenueConfig struct {
	TestnetKey string `mapstructure:"testnet_key"`
	MainnetKey string `mapstructure:"mainnet_key"`
}

// DatabaseConfig points at the document store backing the journal and the
// strategy registry.
type DatabaseConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// UptimeConfig tunes the external reachability prober.
type UptimeConfig struct {
	ProbeURL string        `mapstructure:"probe_url"`
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error — deployments driven purely by environment variables are
// supported.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("environment", string(types.Testnet))
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.lock_timeout", 30*time.Second)
	v.SetDefault("database.name", "hyperbridge")
	v.SetDefault("uptime.probe_url", "https://api.hyperliquid.xyz/info")
	v.SetDefault("uptime.interval", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Deployment-level overrides from env
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if key := os.Getenv("HYPERLIQUID_TESTNET_KEY"); key != "" {
		cfg.Venue.TestnetKey = key
	}
	if key := os.Getenv("HYPERLIQUID_MAINNET_KEY"); key != "" {
		cfg.Venue.MainnetKey = key
	}
	if url := os.Getenv("MONGO_URL"); url != "" {
		cfg.Database.URL = url
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Database.Name = name
	}
	if os.Getenv("DRY_RUN") == "true" || os.Getenv("DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.Environment = strings.ToLower(cfg.Environment)
	return &cfg, nil
}

// Validate checks all required fields. A missing key for the active
// environment is a ConfigurationError: the process must not start half-armed.
func (c *Config) Validate() error {
	env := types.Environment(c.Environment)
	if env != types.Testnet && env != types.Mainnet {
		return &types.ConfigurationError{
			Reason: fmt.Sprintf("environment must be %q or %q, got %q", types.Testnet, types.Mainnet, c.Environment),
		}
	}
	if _, err := c.KeyFor(env); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &types.ConfigurationError{Reason: fmt.Sprintf("server.port %d out of range", c.Server.Port)}
	}
	if c.Database.URL == "" {
		return &types.ConfigurationError{Reason: "database.url is required (set MONGO_URL)"}
	}
	return nil
}

// ActiveEnvironment returns the configured environment as a typed value.
func (c *Config) ActiveEnvironment() types.Environment {
	return types.Environment(c.Environment)
}

// KeyFor returns the signing key for an environment, or a ConfigurationError
// when it is missing.
func (c *Config) KeyFor(env types.Environment) (string, error) {
	key := c.Venue.TestnetKey
	envVar := "HYPERLIQUID_TESTNET_KEY"
	if env == types.Mainnet {
		key = c.Venue.MainnetKey
		envVar = "HYPERLIQUID_MAINNET_KEY"
	}
	if key == "" {
		return "", &types.ConfigurationError{
			Reason: fmt.Sprintf("no signing key for %s (set %s)", env, envVar),
		}
	}
	return key, nil
}
