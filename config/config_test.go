package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chdirTemp moves into an empty temp dir so no config.yaml or .env is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func validDefaults() *Config {
	return &Config{
		Store:   StoreConfig{Driver: "sqlite", DatabaseURL: "buyback.db"},
		Server:  ServerConfig{Port: 8080},
		Log:     LogConfig{Level: "info", Format: "json"},
		Pricing: PricingConfig{BatchConcurrency: 8},
		Cache:   CacheConfig{RefreshInterval: 5 * time.Minute},
	}
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "buyback.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "", cfg.Pricing.Timezone)
	assert.Equal(t, 8, cfg.Pricing.BatchConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Cache.RefreshInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/buyback
log:
  level: debug
  format: console
server:
  port: 9090
pricing:
  timezone: America/Los_Angeles
  batch_concurrency: 2
cache:
  refresh_interval: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/buyback", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "America/Los_Angeles", cfg.Pricing.Timezone)
	assert.Equal(t, 2, cfg.Pricing.BatchConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Cache.RefreshInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("BUYBACK_SERVER_PORT", "7070")
	t.Setenv("BUYBACK_STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BUYBACK_LOG_LEVEL=warn\n"), 0o644))
	t.Setenv("BUYBACK_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("BUYBACK_LOG_LEVEL"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mongo"
	cfg.Server.Port = 0
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Pricing.Timezone = "Mars/Olympus"
	cfg.Pricing.BatchConcurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mongo"`)
	assert.Contains(t, err.Error(), "server.port 0 is out of range")
	assert.Contains(t, err.Error(), `log.level "loud" is invalid`)
	assert.Contains(t, err.Error(), `log.format "xml"`)
	assert.Contains(t, err.Error(), `pricing.timezone "Mars/Olympus"`)
	assert.Contains(t, err.Error(), "pricing.batch_concurrency must be at least 1")
}

func TestValidate_DatabaseURLRequired(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "store.database_url is required")

	cfg.Store.Driver = "memory"
	assert.NoError(t, cfg.Validate())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
