package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/statecascade/pkg/schema"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "statecascade.db", cfg.DBPath)
	assert.Equal(t, "master", cfg.SourceStore)
	assert.Equal(t, "web", cfg.TargetStore)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 4, cfg.Publish.PoolSize)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, map[string]string{
		"master": "file:statecascade.db",
		"web":    "file:statecascade-web.db",
	}, cfg.StoreDSNs())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STATECASCADE_DB_PATH", "/tmp/cms.db")
	t.Setenv("STATECASCADE_MAX_DEPTH", "5")
	t.Setenv("STATECASCADE_PUBLISH_POOL_SIZE", "8")
	t.Setenv("STATECASCADE_SCHEDULER_INTERVAL", "15s")
	t.Setenv("STATECASCADE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cms.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.Equal(t, 8, cfg.Publish.PoolSize)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statecascade.yaml")
	content := `
db_path: cms.db
source_store: master
target_store: live
stores:
  master: file:master.db
  live: file:live.db
publish:
  breaker_cooldown: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.TargetStore)
	assert.Equal(t, 2*time.Minute, cfg.Publish.BreakerCooldown)
	assert.Equal(t, "file:live.db", cfg.StoreDSNs()["live"])
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero depth", func(c *Config) { c.MaxDepth = 0 }},
		{"same stores", func(c *Config) { c.TargetStore = c.SourceStore }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty actor", func(c *Config) { c.Actor = "" }},
		{"zero pool", func(c *Config) { c.Publish.PoolSize = 0 }},
		{"negative interval", func(c *Config) { c.Scheduler.Interval = -time.Second }},
		{"unknown target store", func(c *Config) { c.Stores = map[string]string{"master": "file:m.db"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}

	require.NoError(t, Default().Validate())
}
