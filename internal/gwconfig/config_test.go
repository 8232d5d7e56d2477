package gwconfig

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
	dir := t.TempDir()
	path := filepath.Join(dir, "pseqgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "request_timeout_seconds: 5\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
}

func TestLoad_RejectsNonPositiveTimeout(t *testing.T) {
	path := writeConfig(t, "request_timeout_seconds: 0\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ParsesProcessorLimitsAndThrottle(t *testing.T) {
	path := writeConfig(t, `
request_timeout_seconds: 10
processors:
  limits:
    Cassandra-get: 128
  throttle:
    Cassandra-get:
      window: 1s
      events: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 128, cfg.Limit("Cassandra-get", 256))
	assert.EqualValues(t, 256, cfg.Limit("LMDB-cache", 256))

	rates := cfg.IPRates("Cassandra-get")
	require.Len(t, rates, 1)
	assert.Equal(t, 5, rates[int64(time.Second)])

	assert.Nil(t, cfg.IPRates("LMDB-cache"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
