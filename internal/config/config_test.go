package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://html.duckduckgo.com/html/", cfg.DuckDuckGo.BaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 5, cfg.Search.MaxPages)
	assert.Equal(t, 3, cfg.Pipeline.PreviewFetchCap)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.PreviewTTL)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.FullTTL)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROSPECTOR_SERVER_PORT", "9191")
	t.Setenv("PROSPECTOR_STORE_DRIVER", "postgres")
	t.Setenv("PROSPECTOR_GOOGLE_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "test-key", cfg.Google.Key)
}

func TestResilienceConfig_Conversions(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	b := cfg.Resilience.Breaker()
	assert.Equal(t, 5, b.FailureThreshold)
	assert.Equal(t, 60*time.Second, b.RecoveryTimeout)
	assert.Equal(t, 2, b.SuccessThreshold)

	r := cfg.Resilience.Retry()
	assert.Equal(t, 3, r.MaxRetries)
	assert.Equal(t, time.Second, r.BaseBackoff)
	assert.Equal(t, 30*time.Second, r.MaxBackoff)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shout", Format: "json"})
	require.Error(t, err)
}
