package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HEALTHSYNC_DB",
	"HEALTHSYNC_MONGO_URI",
	"HEALTHSYNC_MONGO_DB",
	"HEALTHSYNC_PROBE_URL",
	"HEALTHSYNC_JAEGER_ENDPOINT",
	"PORT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "healthsync.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "healthsync.db", cfg.Storage.Path)
	assert.Empty(t, cfg.Remote.MongoURI)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.Interval)
	assert.Equal(t, 3*time.Second, cfg.Connectivity.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Sync.Interval)
	assert.Equal(t, time.Second, cfg.Sync.KickDelay)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
storage:
  path: /var/lib/healthsync/queue.db
remote:
  mongo_uri: "mongodb://file:27017"
  database: filedb
connectivity:
  interval: 10s
sync:
  max_retries: 8
  disable_auto_sync: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/var/lib/healthsync/queue.db", cfg.Storage.Path)
	assert.Equal(t, "mongodb://file:27017", cfg.Remote.MongoURI)
	assert.Equal(t, "filedb", cfg.Remote.Database)
	assert.Equal(t, 10*time.Second, cfg.Connectivity.Interval)
	assert.Equal(t, 3*time.Second, cfg.Connectivity.Timeout) // inherited default
	assert.Equal(t, 8, cfg.Sync.MaxRetries)
	assert.True(t, cfg.Sync.DisableAutoSync)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  path: file.db
remote:
  mongo_uri: "mongodb://file:27017"
`)
	t.Setenv("HEALTHSYNC_DB", "env.db")
	t.Setenv("HEALTHSYNC_MONGO_URI", "mongodb://env:27017")
	t.Setenv("HEALTHSYNC_MONGO_DB", "envdb")
	t.Setenv("HEALTHSYNC_PROBE_URL", "http://probe.local/204")
	t.Setenv("HEALTHSYNC_JAEGER_ENDPOINT", "http://jaeger:14268/api/traces")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Storage.Path)
	assert.Equal(t, "mongodb://env:27017", cfg.Remote.MongoURI)
	assert.Equal(t, "envdb", cfg.Remote.Database)
	assert.Equal(t, "http://probe.local/204", cfg.Connectivity.ProbeURL)
	assert.Equal(t, "http://jaeger:14268/api/traces", cfg.Tracing.JaegerEndpoint)
	assert.Equal(t, ":9090", cfg.Listen)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "sync: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "sync:\n  max_retries: 0\n"))
	assert.ErrorContains(t, err, "max_retries")

	t.Setenv("PORT", "http")
	_, err = Load("")
	assert.ErrorContains(t, err, "PORT")
}
