// Package config loads process-wide configuration for the ingestion
// engine: the document store target, and the defaults applied to a
// ChainConfig when it omits a field.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration.
type Config struct {
	MongoURI string `env:"MONGO_URI,required"`
	MongoDB  string `env:"MONGO_DATABASE,default=fee_ingestion"`

	DefaultScanIntervalMS int   `env:"DEFAULT_SCAN_INTERVAL_MS,default=30000"`
	DefaultStartingBlock  int64 `env:"DEFAULT_STARTING_BLOCK,default=70000000"`
	DefaultMaxBlockRange  int   `env:"DEFAULT_MAX_BLOCK_RANGE,default=1000"`
	DefaultRetryAttempts  int   `env:"DEFAULT_RETRY_ATTEMPTS,default=3"`

	// RetryBaseDelayMS is loaded but not passed to any component; RPC
	// retries pause a fixed one second.
	RetryBaseDelayMS      int `env:"RETRY_BASE_DELAY_MS,default=1000"`
	TimestampBatchSize    int `env:"TIMESTAMP_BATCH_SIZE,default=5"`
	TimestampBatchDelayMS int `env:"TIMESTAMP_BATCH_DELAY_MS,default=200"`

	GracefulShutdownMS int `env:"GRACEFUL_SHUTDOWN_MS,default=30000"`

	RedisAddr string `env:"REDIS_ADDR,default="`

	HTTPAddr string `env:"OPS_HTTP_ADDR,default=:9090"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load reads a .env file if present, then decodes environment variables,
// then applies an optional YAML overlay (path given by CONFIG_FILE) for
// operators who prefer a file to environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that envdecode's tags can't express.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.DefaultScanIntervalMS < 5000 || c.DefaultScanIntervalMS > 300000 {
		return fmt.Errorf("DEFAULT_SCAN_INTERVAL_MS must be between 5000 and 300000")
	}
	if c.DefaultMaxBlockRange < 100 || c.DefaultMaxBlockRange > 10000 {
		return fmt.Errorf("DEFAULT_MAX_BLOCK_RANGE must be between 100 and 10000")
	}
	if c.DefaultRetryAttempts < 1 || c.DefaultRetryAttempts > 10 {
		return fmt.Errorf("DEFAULT_RETRY_ATTEMPTS must be between 1 and 10")
	}
	return nil
}

func (c *Config) DefaultScanInterval() time.Duration {
	return time.Duration(c.DefaultScanIntervalMS) * time.Millisecond
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

func (c *Config) TimestampBatchDelay() time.Duration {
	return time.Duration(c.TimestampBatchDelayMS) * time.Millisecond
}

func (c *Config) GracefulShutdown() time.Duration {
	return time.Duration(c.GracefulShutdownMS) * time.Millisecond
}
