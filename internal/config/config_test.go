package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: daymark
sync:
  queue_path: /tmp/daymark-test/queue.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Server.BaseURL)
	assert.Equal(t, 3, cfg.Server.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout())
	assert.Equal(t, time.Second, cfg.Server.RetryDelayDuration())
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Sync.PollIntervalDuration())
	assert.Equal(t, 2.0, cfg.Sync.BackoffFactor)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DAYMARK_API_URL", "http://localhost:8080")

	path := writeConfig(t, `
server:
  base_url: https://configured.example.com
sync:
  queue_path: /tmp/daymark-test/queue.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
}

func TestLoadExpandsEnvInYAML(t *testing.T) {
	t.Setenv("QUEUE_DIR", "/tmp/daymark-env")

	path := writeConfig(t, `
sync:
  queue_path: ${QUEUE_DIR}/queue.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/daymark-env/queue.db", cfg.Sync.QueuePath)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
app:
  name: daymark
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
sync:
  queue_path: /tmp/q.db
server:
  timeout: not-a-duration
`)
	_, err = Load(path)
	assert.Error(t, err)
}
