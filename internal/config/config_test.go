package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))
	return path
}

func TestLoad_ParsesFullSchema(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-interpolated")

	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

providers:
  - name: openai
    type: openai_compat
    api_key: ${TEST_OPENAI_KEY}
    api_base: https://api.openai.com/v1
    timeout: 20s
    max_retries: 2
    weight: 2
    priority: 1
    tags: [primary]
    models: [gpt-4o]

routing:
  strategy: least_latency
  fallbacks:
    general:
      gpt-4o: [gpt-4o-mini]

middleware:
  rate_limit:
    strategy: token_bucket
    rpm: 500
  cache:
    enabled: true
    max_size: 5000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-interpolated", cfg.Providers[0].APIKey)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
	assert.Equal(t, []string{"gpt-4o"}, cfg.Providers[0].Models)
	assert.Equal(t, "least_latency", cfg.Routing.Strategy)
	assert.Equal(t, []string{"gpt-4o-mini"}, cfg.Routing.Fallbacks.General["gpt-4o"])
	assert.Equal(t, uint32(500), cfg.Middleware.RateLimit.RPM)
	assert.True(t, cfg.Middleware.Cache.Enabled)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  unknown_field: true
providers: []
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingAPIKeyIsFatal(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
providers:
  - name: openai
    type: openai_compat
    models: [gpt-4o]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "api_key")
}

func TestLoad_SSRFBlockedBaseURLIsFatal(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
providers:
  - name: openai
    type: openai_compat
    api_key: sk-test
    api_base: http://169.254.169.254/latest
    models: [gpt-4o]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_SelfReferentialFallbackIsFatal(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
providers:
  - name: openai
    type: openai_compat
    api_key: sk-test
    models: [gpt-4o]
routing:
  fallbacks:
    general:
      gpt-4o: [gpt-4o]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "inconsistent fallback graph")
}

func TestLoad_ProviderEnvOverridesWinOverYAML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("OPENAI_API_BASE", "https://proxy.example.com/v1")

	path := writeConfig(t, `
server:
  port: 8080
providers:
  - name: openai
    type: openai_compat
    api_key: sk-from-yaml
    api_base: https://api.openai.com/v1
    models: [gpt-4o]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	assert.Equal(t, "https://proxy.example.com/v1", cfg.Providers[0].APIBase)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
providers:
  - name: openai
    type: openai_compat
    api_key: sk-test
    models: [gpt-4o]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "round_robin", cfg.Routing.Strategy)
	assert.Equal(t, uint32(5), cfg.Routing.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 10000, cfg.Middleware.Cache.MaxSize)
	assert.InDelta(t, 0.90, cfg.Middleware.Cache.SimilarityThreshold, 0.0001)
}

func TestLoad_EnvOverridesArbitraryKey(t *testing.T) {
	t.Setenv("LLMGATEWAY_SERVER_PORT", "7070")
	path := writeConfig(t, `
server:
  port: 8080
providers:
  - name: openai
    type: openai_compat
    api_key: sk-test
    models: [gpt-4o]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}
