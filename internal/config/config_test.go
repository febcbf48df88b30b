package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LATENT_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Engine.Cooldown)
	assert.Equal(t, 2*time.Minute, cfg.Engine.MaxInFlight)
	assert.Equal(t, 50, cfg.Engine.HistorySize)
	assert.Equal(t, 24*time.Hour, cfg.Anchors.CacheTTL)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "latent.yaml")
	yamlData := `
server:
  port: 9090
engine:
  cooldown: 30s
  history_size: 10
anchors:
  tile_precision: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("LATENT_CONFIG_FILE", path)
	t.Setenv("ENGINE_HISTORY_SIZE", "25")
	t.Setenv("ENGINE_FAILURE_BACKOFF", "1m")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Engine.Cooldown)
	assert.Equal(t, 25, cfg.Engine.HistorySize, "environment overrides the file")
	assert.Equal(t, 4, cfg.Anchors.TilePrecision)
	assert.Equal(t, time.Minute, cfg.Engine.FailureBackoff)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LATENT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"zero evaluation period", func(c *Config) { c.Engine.EvaluationPeriod = 0 }, false},
		{"negative cooldown", func(c *Config) { c.Engine.Cooldown = -time.Second }, false},
		{"zero cooldown", func(c *Config) { c.Engine.Cooldown = 0 }, true},
		{"tile precision too fine", func(c *Config) { c.Anchors.TilePrecision = 9 }, false},
		{"missing key in production", func(c *Config) { c.Environment = "production" }, false},
		{"key in production", func(c *Config) {
			c.Environment = "production"
			c.TextGen.APIKey = "k"
		}, true},
		{"unknown provider", func(c *Config) { c.TextGen.Provider = "markov" }, false},
		{"negative failure backoff", func(c *Config) { c.Engine.FailureBackoff = -time.Second }, false},
		{"generation outlives write deadline", func(c *Config) {
			c.Server.WriteTimeout = 30 * time.Second
			c.Engine.GenerationTimeout = 45 * time.Second
		}, false},
		{"unbounded generation", func(c *Config) { c.Engine.GenerationTimeout = 0 }, false},
		{"no write deadline", func(c *Config) {
			c.Server.WriteTimeout = 0
			c.Engine.GenerationTimeout = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestServerRequestTimeouts(t *testing.T) {
	cfg := Defaults()
	assert.Less(t, cfg.Engine.GenerationTimeout, cfg.Server.GenerationRequestTimeout())
	assert.Less(t, cfg.Server.GenerationRequestTimeout(), cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout())

	short := ServerConfig{WriteTimeout: 10 * time.Second}
	assert.Equal(t, 9*time.Second, short.GenerationRequestTimeout())
	assert.Equal(t, 9*time.Second, short.RequestTimeout())

	assert.Equal(t, 90*time.Second, ServerConfig{}.GenerationRequestTimeout())
}
