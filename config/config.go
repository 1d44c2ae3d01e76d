/*
Package config loads runtime configuration and initializes logging.

SOURCES (later wins):
  1. Defaults set in Load
  2. config.yaml in the working directory (optional)
  3. .env file in the working directory (optional, copied into the process env)
  4. BUYBACK_* environment variables, "." replaced by "_"
     e.g. BUYBACK_STORE_DRIVER=postgres, BUYBACK_SERVER_PORT=9090

USAGE:
  cfg, err := config.Load()
  if err != nil {
      return err
  }
  if err := cfg.Validate(); err != nil {
      return err
  }
  if err := config.InitLogger(cfg.Log); err != nil {
      return err
  }
  zap.L().Info("ready", zap.Int("port", cfg.Server.Port))

SEE ALSO:
  - cmd/buyback/root.go: Loads config before every command
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/buyback-engine/pricing"
	"github.com/warp/buyback-engine/store/postgres"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Pricing PricingConfig `yaml:"pricing" mapstructure:"pricing"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
}

// StoreConfig selects and configures the policy store.
type StoreConfig struct {
	Driver      string              `yaml:"driver" mapstructure:"driver"` // memory, sqlite, postgres
	DatabaseURL string              `yaml:"database_url" mapstructure:"database_url"`
	Pool        postgres.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PricingConfig holds quote defaults.
type PricingConfig struct {
	// Timezone applied when a quote request omits one. Empty means UTC.
	Timezone         string `yaml:"timezone" mapstructure:"timezone"`
	BatchConcurrency int    `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// CacheConfig configures the API policy cache.
type CacheConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BUYBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "buyback.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pricing.timezone", "")
	v.SetDefault("pricing.batch_concurrency", 8)
	v.SetDefault("cache.refresh_interval", 5*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q is invalid", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		problems = append(problems, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Pricing.Timezone != "" {
		if _, err := pricing.NewTimeContext(time.Now(), c.Pricing.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("pricing.timezone %q is not a known zone", c.Pricing.Timezone))
		}
	}
	if c.Pricing.BatchConcurrency < 1 {
		problems = append(problems, "pricing.batch_concurrency must be at least 1")
	}
	if c.Cache.RefreshInterval < 0 {
		problems = append(problems, "cache.refresh_interval must not be negative")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
