package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	arbiter, err := cfg.GetArbiter()
	require.NoError(t, err)
	assert.Equal(t, "gemini", arbiter.Provider)
	assert.True(t, arbiter.Enabled)

	store, err := cfg.GetStore()
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Type)
	assert.Equal(t, 720*time.Hour, store.Retention)
	assert.Equal(t, time.Hour, store.CleanupFrequency)

	classifier, err := cfg.GetClassifier()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, classifier.Timeout)

	assert.Equal(t, "X-Phishing-Risk", cfg.GetString("server.headers.risk"))
	assert.Equal(t, "phish_filter", cfg.GetMetrics().Namespace)
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
arbiter:
  provider: openai
openai:
  model_name: gpt-4o
  temperature: 0.2
store:
  type: sqlite
  retention: 48h
`), 0o600))

	cfg, err := NewFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.GetString("arbiter.provider"))
	openai := cfg.GetOpenAI()
	assert.Equal(t, "gpt-4o", openai.ModelName)
	assert.InDelta(t, 0.2, openai.Temperature, 1e-6)
	assert.Equal(t, 1000, openai.MaxTokens, "unset keys keep defaults")

	store, err := cfg.GetStore()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", store.Type)
	assert.Equal(t, 48*time.Hour, store.Retention)
}

func TestNewFromFileMissing(t *testing.T) {
	_, err := NewFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PHISH_FILTER_STORE_TYPE", "mysql")

	cfg, err := NewFromFile(writeEmptyConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.GetString("store.type"))
}

func TestInvalidDuration(t *testing.T) {
	v := NewEmptyViper()
	v.Set("store.retention", "forever")

	_, err := NewFromViper(v).GetStore()
	assert.ErrorContains(t, err, "store.retention")
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))
	return path
}
