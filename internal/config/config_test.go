package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoflow/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "photoflow.db", cfg.Storage.DBPath)
	assert.Equal(t, 1000, cfg.Queue.MaxSize)
	assert.Equal(t, 3, cfg.Queue.DefaultMaxRetries)
	assert.Equal(t, time.Second, cfg.Queue.BackoffUnit.Std())
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval.Std())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
storage:
  db_path: /data/queue.db
  fallback_path: /data/queue.json
queue:
  max_size: 50
  backoff_unit: 250ms
sync:
  interval: 5s
  cron: "*/5 * * * *"
  upstream_url: https://sync.example.com/batch
  timeout: 10s
network:
  probe_url: https://probe.example.com/ping
  probe_interval: 15s
processors:
  webhook_url: https://worker.example.com/actions
  types: [tag, export]
log_level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/data/queue.db", cfg.Storage.DBPath)
	assert.Equal(t, "/data/queue.json", cfg.Storage.FallbackPath)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.BackoffUnit.Std())
	assert.Equal(t, 5*time.Second, cfg.Sync.Interval.Std())
	assert.Equal(t, "*/5 * * * *", cfg.Sync.Cron)
	assert.Equal(t, "https://sync.example.com/batch", cfg.Sync.UpstreamURL)
	assert.Equal(t, 10*time.Second, cfg.Sync.Timeout.Std())
	assert.Equal(t, 15*time.Second, cfg.Network.ProbeInterval.Std())
	assert.Equal(t, []string{"tag", "export"}, cfg.Processors.Types)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Queue.DefaultMaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := config.Load(writeConfig(t, "queue: [not a map"))
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	_, err := config.Load(writeConfig(t, "sync:\n  interval: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"non-positive max size": "queue:\n  max_size: 0\n",
		"negative retries":      "queue:\n  default_max_retries: -1\n",
		"non-positive interval": "sync:\n  interval: 0s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}
